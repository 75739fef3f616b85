// Package session ties a configured renderer to its tile loader. Both the
// windowed app and headless runs drive frames through a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"tilearray/internal/config"
	"tilearray/internal/geometry"
	"tilearray/internal/gpu"
	"tilearray/internal/layout"
	"tilearray/internal/loader"
	"tilearray/internal/logging"
	"tilearray/internal/renderer"
)

// InitialMap builds the starting index map described by cfg.
func InitialMap(cfg *config.Config) ([]int32, error) {
	g := cfg.Grid
	if g.GeoJSON != "" {
		data, err := os.ReadFile(g.GeoJSON)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		cells, err := layout.FromGeoJSON(data, g.Width, g.Height, nil, 0)
		if err != nil {
			return nil, err
		}
		return cells, nil
	}
	return layout.Generate(g.Layout, layout.Params{
		Width:  g.Width,
		Height: g.Height,
		Layers: cfg.Assets.Count,
		Seed:   g.Seed,
	})
}

// Options converts cfg into renderer options.
func Options(cfg *config.Config, initial []int32) renderer.Options {
	return renderer.Options{
		Grid:       geometry.Grid{Width: cfg.Grid.Width, Height: cfg.Grid.Height},
		Layers:     cfg.Assets.Count,
		TileWidth:  cfg.Rendering.TileWidth,
		TileHeight: cfg.Rendering.TileHeight,
		Filter:     cfg.Filter(),
		InitialMap: initial,
	}
}

// Session owns a ready renderer and a started loader.
type Session struct {
	cfg      *config.Config
	renderer *renderer.Renderer
	loader   *loader.Loader
	seed     int64
}

// Open validates cfg, sets up the renderer on dev and starts loading every
// tile from src. Frames can be drawn right away; unloaded layers stay empty.
func Open(ctx context.Context, dev gpu.Device, cfg *config.Config, src loader.Source, opts ...loader.Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initial, err := InitialMap(cfg)
	if err != nil {
		return nil, err
	}
	r, err := renderer.Setup(dev, Options(cfg, initial))
	if err != nil {
		return nil, err
	}

	opts = append([]loader.Option{loader.WithWorkers(cfg.Assets.Workers)}, opts...)
	l := loader.New(src, opts...)
	if err := l.Start(ctx, cfg.Naming().Names(cfg.Assets.Count)); err != nil {
		r.Release()
		return nil, err
	}
	return &Session{cfg: cfg, renderer: r, loader: l, seed: cfg.Grid.Seed}, nil
}

// Frame uploads whatever tiles finished loading and draws one frame.
func (s *Session) Frame() error {
	s.loader.Drain(s.renderer.Atlas())
	return s.renderer.RenderFrame()
}

// WaitLoaded blocks until every tile has loaded or failed.
func (s *Session) WaitLoaded(ctx context.Context) (loader.Report, error) {
	return s.loader.Wait(ctx, s.renderer.Atlas())
}

// Randomize replaces the index map with a new random layout.
func (s *Session) Randomize() error {
	s.seed++
	g := s.cfg.Grid
	return s.renderer.IndexMap().Replace(layout.Random(g.Width, g.Height, s.cfg.Assets.Count, s.seed))
}

// Checker replaces the index map with a checkerboard of the first two tiles.
func (s *Session) Checker() error {
	cells, err := layout.Generate("checker", layout.Params{
		Width:  s.cfg.Grid.Width,
		Height: s.cfg.Grid.Height,
		Layers: s.cfg.Assets.Count,
	})
	if err != nil {
		return err
	}
	return s.renderer.IndexMap().Replace(cells)
}

// Cycle advances every cell to the next tile id.
func (s *Session) Cycle() error {
	m := s.renderer.IndexMap()
	cells := m.Cells()
	layout.Shift(cells, m.Layers(), 1)
	return m.Replace(cells)
}

func (s *Session) Renderer() *renderer.Renderer { return s.renderer }
func (s *Session) Loader() *loader.Loader       { return s.loader }

// Close stops loading and releases the renderer. The device and the source
// belong to the caller.
func (s *Session) Close() {
	s.loader.Close()
	s.renderer.Release()
}

// Headless is the result of RunHeadless.
type Headless struct {
	Frame  *image.RGBA
	Report loader.Report
}

// RunHeadless loads every tile, draws frames frames and captures the last
// one. dev must implement gpu.Capturer.
func RunHeadless(ctx context.Context, dev gpu.Device, cfg *config.Config, src loader.Source, frames int, opts ...loader.Option) (*Headless, error) {
	capturer, ok := dev.(gpu.Capturer)
	if !ok {
		return nil, gpu.ErrCaptureUnsupported
	}
	if frames <= 0 {
		return nil, errors.New("session: headless mode needs a positive frame count")
	}

	s, err := Open(ctx, dev, cfg, src, opts...)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	report, err := s.WaitLoaded(ctx)
	if err != nil {
		return nil, err
	}
	for i := 0; i < frames; i++ {
		if err := s.Frame(); err != nil {
			return nil, err
		}
	}
	img, err := capturer.Capture()
	if err != nil {
		return nil, err
	}
	logging.Logger().Info("headless run finished", "frames", frames, "loaded", report.Loaded, "failed", report.Failed)
	return &Headless{Frame: img, Report: report}, nil
}
