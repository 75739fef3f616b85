package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli"

	"tilearray/internal/app"
	"tilearray/internal/config"
	"tilearray/internal/gpu"
	"tilearray/internal/gpu/soft"
	"tilearray/internal/gpu/webgpu"
	"tilearray/internal/layout"
	"tilearray/internal/loader"
	"tilearray/internal/logging"
	"tilearray/internal/session"
	"tilearray/internal/tileserver"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "tileview"
	cliApp.Description = "Draws a grid of tile graphics through a GPU texture array"
	cliApp.Usage = "tileview [options]"
	cliApp.Version = "1.0.0"
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "Path to the JSON config file",
			Value: config.DefaultPath,
		},
		cli.StringFlag{
			Name:  "assets",
			Usage: "Tile asset directory, http(s) base URL or .sqlite archive",
		},
		cli.StringFlag{
			Name:  "category",
			Usage: "Tile category (subdirectory of the asset location)",
		},
		cli.IntFlag{
			Name:  "tiles",
			Usage: "Number of tile graphics, one atlas layer each",
		},
		cli.StringFlag{
			Name:  "tile-size",
			Usage: "Tile graphic size, WxH or N",
		},
		cli.StringFlag{
			Name:  "grid",
			Usage: "Index map size in cells, WxH or N",
		},
		cli.StringFlag{
			Name:  "filter",
			Usage: "Atlas sampling: nearest or linear",
		},
		cli.StringFlag{
			Name:  "layout",
			Usage: "Initial layout: " + strings.Join(layout.Names(), ", "),
		},
		cli.Int64Flag{
			Name:  "seed",
			Usage: "Seed of the random layout",
		},
		cli.StringFlag{
			Name:  "geojson",
			Usage: "GeoJSON file whose polygons assign tile ids to regions",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "Concurrent tile fetches",
		},
		cli.BoolFlag{
			Name:  "headless",
			Usage: "Render without a window and write a snapshot",
		},
		cli.StringFlag{
			Name:  "device",
			Usage: "Headless device: soft or webgpu",
			Value: "soft",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to draw in headless mode",
			Value: 1,
		},
		cli.StringFlag{
			Name:  "snapshot",
			Usage: "PNG file for the last headless frame",
			Value: "snapshot.png",
		},
		cli.StringFlag{
			Name:  "serve",
			Usage: "Serve the tile assets over HTTP on this address instead of rendering",
		},
		cli.StringFlag{
			Name:  "save-config",
			Usage: "Write the effective configuration to this file and exit",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable debug logging",
		},
	}
	cliApp.Action = run

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("tileview failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logging.SetLogger(logger)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := applyFlags(c, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if path := c.String("save-config"); path != "" {
		slog.Info("Writing configuration", "path", path)
		return cfg.Save(path)
	}

	src, err := loader.OpenSource(cfg.Assets.Location, cfg.Assets.CacheDir)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if addr := c.String("serve"); addr != "" {
		return serve(ctx, src, addr)
	}
	if c.Bool("headless") {
		return runHeadless(ctx, c, cfg, src)
	}

	application, err := app.New(ctx, cfg, src)
	if err != nil {
		return err
	}
	defer application.Cleanup()

	slog.Info("Controls: Esc quit, R random layout, C checker layout, Space cycle tiles")
	return application.Run()
}

func runHeadless(ctx context.Context, c *cli.Context, cfg *config.Config, src loader.Source) error {
	frames := c.Int("frames")
	if frames <= 0 {
		return errors.New("headless mode requires --frames with a positive value")
	}

	dev, err := newHeadlessDevice(c.String("device"), cfg.Window.Width, cfg.Window.Height)
	if err != nil {
		return err
	}
	defer dev.Release()

	bar := progressbar.NewOptions(cfg.Assets.Count,
		progressbar.OptionSetDescription("loading tiles"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	out, err := session.RunHeadless(ctx, dev, cfg, src, frames,
		loader.WithProgress(func(loader.Result) { bar.Add(1) }))
	bar.Finish()
	if err != nil {
		return err
	}

	for _, e := range out.Report.Errors {
		slog.Warn("Tile missing from atlas", "index", e.Index, "name", e.Name, "error", e.Cause)
	}

	path := c.String("snapshot")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, out.Frame); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	slog.Info("Headless execution completed", "frames", frames, "loaded", out.Report.Loaded,
		"failed", out.Report.Failed, "snapshot", path)
	return nil
}

func serve(ctx context.Context, src loader.Source, addr string) error {
	server := tileserver.NewServer(src, addr)
	go func() {
		<-ctx.Done()
		server.Stop(context.Background())
	}()
	return server.Start()
}

func newHeadlessDevice(kind string, width, height int) (gpu.Device, error) {
	switch kind {
	case "soft":
		return soft.NewDevice(width, height)
	case "webgpu":
		return webgpu.NewHeadless(width, height)
	default:
		return nil, fmt.Errorf("unknown device %q (want soft or webgpu)", kind)
	}
}

// applyFlags overrides cfg with every flag given on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("assets") {
		cfg.Assets.Location = c.String("assets")
	}
	if c.IsSet("category") {
		cfg.Assets.Category = c.String("category")
	}
	if c.IsSet("tiles") {
		cfg.Assets.Count = c.Int("tiles")
	}
	if c.IsSet("workers") {
		cfg.Assets.Workers = c.Int("workers")
	}
	if c.IsSet("tile-size") {
		w, h, err := parseSize(c.String("tile-size"))
		if err != nil {
			return fmt.Errorf("--tile-size: %w", err)
		}
		cfg.Rendering.TileWidth, cfg.Rendering.TileHeight = w, h
	}
	if c.IsSet("grid") {
		w, h, err := parseSize(c.String("grid"))
		if err != nil {
			return fmt.Errorf("--grid: %w", err)
		}
		cfg.Grid.Width, cfg.Grid.Height = w, h
	}
	if c.IsSet("filter") {
		cfg.Rendering.Filter = c.String("filter")
	}
	if c.IsSet("layout") {
		cfg.Grid.Layout = c.String("layout")
	}
	if c.IsSet("seed") {
		cfg.Grid.Seed = c.Int64("seed")
	}
	if c.IsSet("geojson") {
		cfg.Grid.GeoJSON = c.String("geojson")
	}
	return nil
}

// parseSize accepts "WxH" or a single number for a square.
func parseSize(s string) (int, int, error) {
	ws, hs, found := strings.Cut(strings.ToLower(s), "x")
	if !found {
		hs = ws
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q is not positive", s)
	}
	return w, h, nil
}
