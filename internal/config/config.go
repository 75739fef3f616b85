package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"tilearray/internal/gpu"
	"tilearray/internal/layout"
	"tilearray/pkg/tiles"
)

// DefaultPath is read when no config file is given.
const DefaultPath = "config.json"

// Config holds application configuration
type Config struct {
	Assets    Assets    `json:"assets"`
	Grid      Grid      `json:"grid"`
	Rendering Rendering `json:"rendering"`
	Window    Window    `json:"window"`
}

// Assets describes where tile graphics come from and how they are named
type Assets struct {
	// Location is a directory, an http(s) base URL or a .sqlite archive
	Location string `json:"location"`

	Category   string `json:"category"`
	Count      int    `json:"count"`
	IndexWidth int    `json:"index_width"`
	Ext        string `json:"ext"`

	// CacheDir holds downloaded assets; empty disables the cache
	CacheDir string `json:"cache_dir"`

	Workers int `json:"workers"`
}

// Grid describes the tile index map
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	// Layout is one of layout.Names(); GeoJSON, when set, overrides it
	Layout  string `json:"layout"`
	GeoJSON string `json:"geojson,omitempty"`
	Seed    int64  `json:"seed"`
}

// Rendering contains rendering parameters
type Rendering struct {
	TileWidth  int    `json:"tile_width"`
	TileHeight int    `json:"tile_height"`
	Filter     string `json:"filter"`
}

type Window struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Title  string `json:"title"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Assets: Assets{
			Location:   "assets",
			Category:   tiles.DefaultCategory,
			Count:      16,
			IndexWidth: tiles.DefaultWidth,
			Ext:        tiles.DefaultExt,
			CacheDir:   ".tile_cache",
			Workers:    8,
		},
		Grid: Grid{
			Width:  32,
			Height: 24,
			Layout: "random",
			Seed:   1,
		},
		Rendering: Rendering{
			TileWidth:  32,
			TileHeight: 32,
			Filter:     gpu.FilterLinear.String(),
		},
		Window: Window{
			Width:  1280,
			Height: 720,
			Title:  "Tile Array",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Assets.Location != "", "assets.location is empty")
	check(c.Assets.Count > 0 && c.Assets.Count <= gpu.MaxArrayLayers,
		"assets.count %d outside [1, %d]", c.Assets.Count, gpu.MaxArrayLayers)
	check(c.Assets.IndexWidth >= 0, "assets.index_width %d is negative", c.Assets.IndexWidth)
	check(c.Assets.Workers >= 0, "assets.workers %d is negative", c.Assets.Workers)
	check(c.Grid.Width > 0 && c.Grid.Height > 0, "grid size %dx%d is not positive", c.Grid.Width, c.Grid.Height)
	if c.Grid.GeoJSON == "" {
		_, err := layout.Generate(c.Grid.Layout, layout.Params{Width: 1, Height: 1, Layers: 1})
		check(err == nil, "grid.layout: %v", err)
	}
	check(c.Rendering.TileWidth > 0 && c.Rendering.TileHeight > 0,
		"tile size %dx%d is not positive", c.Rendering.TileWidth, c.Rendering.TileHeight)
	_, err := gpu.ParseFilterMode(c.Rendering.Filter)
	check(err == nil, "rendering.filter: %v", err)
	check(c.Window.Width > 0 && c.Window.Height > 0, "window size %dx%d is not positive", c.Window.Width, c.Window.Height)

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Naming returns the asset naming contract.
func (c *Config) Naming() tiles.Naming {
	return tiles.Naming{Category: c.Assets.Category, Width: c.Assets.IndexWidth, Ext: c.Assets.Ext}
}

// Filter returns the parsed sampling mode. Call Validate first.
func (c *Config) Filter() gpu.FilterMode {
	f, _ := gpu.ParseFilterMode(c.Rendering.Filter)
	return f
}
