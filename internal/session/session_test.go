package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearray/internal/config"
	"tilearray/internal/gpu"
	"tilearray/internal/gpu/soft"
	"tilearray/internal/loader"
)

func skipValidation(string) ([]byte, error) { return []byte{0x03, 0x02, 0x23, 0x07}, nil }

var palette = []color.RGBA{
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{0, 0, 255, 255},
	{255, 255, 0, 255},
}

func writeTiles(t *testing.T, cfg *config.Config, skip int) string {
	t.Helper()
	root := t.TempDir()
	for i, name := range cfg.Naming().Names(cfg.Assets.Count) {
		if i == skip {
			continue
		}
		img := image.NewRGBA(image.Rect(0, 0, cfg.Rendering.TileWidth, cfg.Rendering.TileHeight))
		for p := 0; p < len(img.Pix); p += 4 {
			c := palette[i%len(palette)]
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))

		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	}
	return root
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Assets.Count = 4
	cfg.Assets.Workers = 2
	cfg.Grid.Width, cfg.Grid.Height = 2, 2
	cfg.Grid.Layout = "sequential"
	cfg.Rendering.TileWidth, cfg.Rendering.TileHeight = 2, 2
	cfg.Rendering.Filter = "nearest"
	return cfg
}

func newDevice(t *testing.T) *soft.Device {
	t.Helper()
	dev, err := soft.NewDevice(64, 64, soft.WithCompiler(skipValidation))
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	return dev
}

func TestRunHeadlessWithMissingTile(t *testing.T) {
	cfg := testConfig()
	src, err := loader.NewDirSource(writeTiles(t, cfg, 2))
	require.NoError(t, err)

	var progress int
	out, err := RunHeadless(context.Background(), newDevice(t), cfg, src, 3,
		loader.WithProgress(func(loader.Result) { progress++ }))
	require.NoError(t, err)

	assert.Equal(t, 4, progress)
	assert.Equal(t, 3, out.Report.Loaded)
	require.Len(t, out.Report.Errors, 1)
	assert.Equal(t, 2, out.Report.Errors[0].Index)

	assert.Equal(t, palette[0], out.Frame.RGBAAt(16, 16))
	assert.Equal(t, palette[1], out.Frame.RGBAAt(48, 16))
	assert.Equal(t, color.RGBA{}, out.Frame.RGBAAt(16, 48))
	assert.Equal(t, palette[3], out.Frame.RGBAAt(48, 48))
}

type noCapture struct{ gpu.Device }

func TestRunHeadlessNeedsCapture(t *testing.T) {
	_, err := RunHeadless(context.Background(), noCapture{newDevice(t)}, testConfig(), nil, 1)
	assert.ErrorIs(t, err, gpu.ErrCaptureUnsupported)

	_, err = RunHeadless(context.Background(), newDevice(t), testConfig(), nil, 0)
	assert.Error(t, err)
}

func TestLayoutKeys(t *testing.T) {
	cfg := testConfig()
	src, err := loader.NewDirSource(writeTiles(t, cfg, -1))
	require.NoError(t, err)

	s, err := Open(context.Background(), newDevice(t), cfg, src)
	require.NoError(t, err)
	defer s.Close()
	m := s.Renderer().IndexMap()
	assert.Equal(t, []int32{0, 1, 2, 3}, m.Cells())

	require.NoError(t, s.Cycle())
	assert.Equal(t, []int32{1, 2, 3, 0}, m.Cells())

	require.NoError(t, s.Checker())
	assert.Equal(t, []int32{0, 1, 1, 0}, m.Cells())

	require.NoError(t, s.Randomize())
	for _, v := range m.Cells() {
		assert.True(t, v >= 0 && v < 4)
	}
	require.NoError(t, s.Frame())
	assert.Equal(t, uint64(1), s.Renderer().Frames())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Rendering.Filter = "cubic"
	_, err := Open(context.Background(), newDevice(t), cfg, nil)
	assert.ErrorContains(t, err, "rendering.filter")
}

func TestInitialMapFromGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type": "FeatureCollection", "features": [
	  {"type": "Feature", "properties": {"tile": 3},
	   "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,2],[0,2],[0,0]]]}},
	  {"type": "Feature", "properties": {"tile": 1},
	   "geometry": {"type": "Polygon", "coordinates": [[[1,0],[2,0],[2,2],[1,2],[1,0]]]}}
	]}`), 0644))

	cfg := testConfig()
	cfg.Grid.GeoJSON = path
	cells, err := InitialMap(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 1, 3, 1}, cells)
}
