package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearray/internal/gpu"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, gpu.FilterLinear, cfg.Filter())
	assert.Equal(t, "ACTION/007.png", cfg.Naming().Name(7))
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"assets": {"location": "https://assets.example.org/pack", "count": 64},
		"grid": {"width": 8, "layout": "checker"},
		"rendering": {"filter": "nearest"}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://assets.example.org/pack", cfg.Assets.Location)
	assert.Equal(t, 64, cfg.Assets.Count)
	assert.Equal(t, "ACTION", cfg.Assets.Category)
	assert.Equal(t, 8, cfg.Grid.Width)
	assert.Equal(t, 24, cfg.Grid.Height)
	assert.Equal(t, gpu.FilterNearest, cfg.Filter())
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"grid": `), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Grid.GeoJSON = "regions.geojson"
	cfg.Assets.Workers = 2
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no location", func(c *Config) { c.Assets.Location = "" }, "assets.location"},
		{"too many layers", func(c *Config) { c.Assets.Count = gpu.MaxArrayLayers + 1 }, "assets.count"},
		{"empty grid", func(c *Config) { c.Grid.Height = 0 }, "grid size"},
		{"unknown layout", func(c *Config) { c.Grid.Layout = "spiral" }, "grid.layout"},
		{"bad filter", func(c *Config) { c.Rendering.Filter = "cubic" }, "rendering.filter"},
		{"zero tile", func(c *Config) { c.Rendering.TileWidth = 0 }, "tile size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Grid.Layout = "spiral"
	cfg.Grid.GeoJSON = "regions.geojson"
	assert.NoError(t, cfg.Validate())
}
