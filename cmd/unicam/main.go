package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cjeanneret/unicam/internal/config"
	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
	"github.com/cjeanneret/unicam/internal/hw/flash"
	"github.com/cjeanneret/unicam/internal/hw/gpio"
	"github.com/cjeanneret/unicam/internal/logic/capture"
	"github.com/cjeanneret/unicam/internal/logic/geometry"
	"github.com/cjeanneret/unicam/internal/render"
	"github.com/cjeanneret/unicam/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", "", "path to config file (default: XDG unicam/config.yaml, else configs/default.yaml)")
	logical := flag.String("camera", "", "override camera.logical: front or rear")
	shots := flag.Int("shots", 1, "number of pictures to take without -web")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	path := *cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.ValidateConfigPath(path); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyOverrides(cfg, *logical); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	if *shots < 1 {
		log.Fatalf("-shots must be >= 1, got %d", *shots)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", path)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Initializing camera driver")
	driver, err := newDriverFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera driver failed: %v", err)
	}
	debug.Value("Driver", driver.Name())

	debug.Step(2, "Preparing capture options")
	opts, closeFlash, err := optionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("init capture options failed: %v", err)
	}
	defer func() {
		if err := closeFlash(); err != nil {
			log.Printf("closing flash failed: %v", err)
		}
	}()
	debug.PrintStruct("Negotiator", opts.Negotiator)

	debug.Step(3, "Selecting camera")
	mgr := capture.NewManager(driver, opts)
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Printf("closing cameras failed: %v", err)
		}
	}()
	which, _ := camera.ParseLogical(cfg.Camera.Logical)
	cam, err := mgr.GetCamera(which)
	if err != nil {
		log.Fatalf("no %s camera: %v", which, err)
	}
	debug.Value("Camera", cam.ID())

	saver := &pictureSaver{dir: cfg.OutputDir()}

	if port := webPort.port(); port > 0 {
		if err := runWeb(ctx, fmt.Sprintf(":%d", port), cfg, driver, cam, saver); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}
	if err := runShots(ctx, cam, *shots, saver); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// runShots opens the camera without a preview and takes n pictures.
func runShots(ctx context.Context, cam *capture.Camera, n int, saver *pictureSaver) error {
	debug.Section("Taking pictures")
	if err := cam.Open(ctx); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer cam.Close()

	for i := 1; i <= n; i++ {
		debug.Step(i, "Taking picture")
		data, err := cam.TakePicture(ctx)
		if err != nil {
			return fmt.Errorf("picture %d: %w", i, err)
		}
		path, err := saver.Save(data)
		if err != nil {
			return err
		}
		debug.Info("Saved %s (%s)", path, humanize.Bytes(uint64(len(data))))
	}
	debug.Summary(fmt.Sprintf("%d picture(s) in %s", n, saver.dir))
	return nil
}

// runWeb streams the preview to the browser until ctx is cancelled.
func runWeb(ctx context.Context, addr string, cfg *config.Config, driver camera.Driver, cam *capture.Camera, saver *pictureSaver) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, broadcaster.Writer()))

	debug.Section("Starting preview")
	pipeline, err := cam.OpenWithPreview(ctx, requestedSize(cfg))
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer cam.Close()
	plan := pipeline.Plan()
	debug.Value("Preview buffer", plan.PixelSize)
	debug.Value("Transform", plan.Transform)

	hub := web.NewFrameHub()
	streamer := &web.Streamer{
		Hub:       hub,
		Transform: plan.Transform,
		Canvas:    render.Canvas{Width: plan.RequestPixels.Width, Height: plan.RequestPixels.Height},
		Quality:   render.DefaultJPEGQuality,
	}
	go streamer.Run(ctx, pipeline.Frames())

	handlers := web.NewHandlers(broadcaster, hub, cam, nil)
	handlers.Save = saver.Save
	handlers.Info = func() web.PreviewInfo {
		return web.PreviewInfo{
			Camera:    cam.ID(),
			Driver:    driver.Name(),
			PixelSize: plan.PixelSize,
			SizeDp:    plan.Size,
			Rotation:  cfg.Display.Rotation,
			Transform: plan.Transform,
			Stats:     pipeline.Stats(),
		}
	}
	srv, err := web.NewServer(addr, handlers)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// applyOverrides mutates cfg with the non-empty CLI overrides.
func applyOverrides(cfg *config.Config, logical string) error {
	if logical == "" {
		return nil
	}
	l, err := camera.ParseLogical(logical)
	if err != nil {
		return err
	}
	cfg.Camera.Logical = l.String()
	return nil
}

// requestedSize returns the preview view size in dp. A zero size means the
// whole display.
func requestedSize(cfg *config.Config) geometry.RequestedSize {
	if cfg.Preview.WidthDp > 0 && cfg.Preview.HeightDp > 0 {
		return geometry.RequestedSize{Width: cfg.Preview.WidthDp, Height: cfg.Preview.HeightDp}
	}
	d := geometry.Density{DPI: cfg.Display.DPI}
	return d.ToDp(camera.Size{Width: cfg.Display.WidthPx, Height: cfg.Display.HeightPx})
}

// newDriverFromConfig selects the camera stack based on configuration.
func newDriverFromConfig(cfg *config.Config) (camera.Driver, error) {
	switch cfg.Camera.Driver {
	case "sim":
		stack, err := camera.ParseSimStack(cfg.Sim.Stack)
		if err != nil {
			return nil, err
		}
		cams := camera.DefaultSimCameras(cfg.Sim.FlashAvailable)
		for i := range cams {
			if cams[i].Facing == camera.FacingBack {
				cams[i].SensorOrientation = cfg.Sim.SensorOrientation
			}
		}
		return camera.NewSimDriver(camera.SimOptions{
			Stack:         stack,
			Cameras:       cams,
			PixelStride:   cfg.Sim.PixelStride,
			FrameInterval: cfg.SimFrameInterval(),
			FocusFrames:   cfg.Sim.FocusFrames,
			LowLight:      cfg.Sim.LowLight,
			OmitMetadata:  cfg.Sim.OmitMetadata,
		}), nil
	case "gstreamer":
		// Webcams do not report where they face: the configured one is assumed.
		which, err := camera.ParseLogical(cfg.Camera.Logical)
		if err != nil {
			return nil, err
		}
		return camera.NewGStreamerDriver(camera.GStreamerOptions{
			Device: cfg.GStreamer.Device,
			Width:  cfg.GStreamer.Width,
			Height: cfg.GStreamer.Height,
			FPS:    cfg.GStreamer.FPS,
			Facing: which.Facing(),
		})
	default:
		return nil, fmt.Errorf("unsupported camera driver: %s", cfg.Camera.Driver)
	}
}

// optionsFromConfig maps the configuration onto capture options. The
// returned function releases the flash GPIO, if any.
func optionsFromConfig(cfg *config.Config) (capture.Options, func() error, error) {
	noop := func() error { return nil }
	rotation, err := geometry.RotationFromDegrees(cfg.Display.Rotation)
	if err != nil {
		return capture.Options{}, noop, err
	}

	opts := capture.DefaultOptions()
	opts.OpenLockTimeout = cfg.OpenLockTimeout()
	opts.OpenTimeout = cfg.OpenTimeout()
	opts.ConfigureTimeout = cfg.ConfigureTimeout()
	opts.CaptureTimeout = cfg.CaptureTimeout()
	opts.Negotiator = geometry.Negotiator{
		Display:         camera.Size{Width: cfg.Display.WidthPx, Height: cfg.Display.HeightPx},
		DisplayRotation: rotation,
		Density:         geometry.Density{DPI: cfg.Display.DPI},
	}
	opts.PreviewImages = cfg.Preview.MaxImages
	opts.QueueDepth = cfg.Preview.QueueDepth
	opts.Workers = cfg.Preview.Workers
	opts.MinInterval = cfg.MinFrameInterval()

	if !cfg.Flash.Enabled {
		return opts, noop, nil
	}
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return capture.Options{}, noop, fmt.Errorf("init GPIO: %w", err)
	}
	f, err := flash.New(g, cfg.Flash.Pin, cfg.FlashDuration())
	if err != nil {
		g.Close()
		return capture.Options{}, noop, err
	}
	debug.Value("Flash pin", cfg.Flash.Pin)
	opts.Flash = f
	return opts, func() error { return errors.Join(f.Close(), g.Close()) }, nil
}

// pictureSaver writes pictures to dir as unicam-<time>-<n>.jpg.
type pictureSaver struct {
	dir string
	now func() time.Time
	n   int
}

func (s *pictureSaver) Save(data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	s.n++
	path := filepath.Join(s.dir, fmt.Sprintf("unicam-%s-%03d.jpg", now().Format("20060102-150405"), s.n))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write picture: %w", err)
	}
	return path, nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
