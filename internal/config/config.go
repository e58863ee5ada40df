package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// xdgRelPath is the config location below $XDG_CONFIG_HOME (and XDG_CONFIG_DIRS).
const xdgRelPath = "unicam/config.yaml"

// CameraConfig selects the camera and the native stack used to drive it.
type CameraConfig struct {
	Logical            string `yaml:"logical"`              // "front" or "rear"
	Driver             string `yaml:"driver"`               // "sim" or "gstreamer"
	OpenLockTimeoutMs  int    `yaml:"open_lock_timeout_ms"` // open/close lock acquisition
	OpenTimeoutMs      int    `yaml:"open_timeout_ms"`      // device open callback
	ConfigureTimeoutMs int    `yaml:"configure_timeout_ms"` // capture session configuration
	CaptureTimeoutMs   int    `yaml:"capture_timeout_ms"`   // still capture (focus, precapture, jpeg)
}

// PreviewConfig describes the preview pipeline.
type PreviewConfig struct {
	WidthDp       float64 `yaml:"width_dp"`        // requested view size in dp
	HeightDp      float64 `yaml:"height_dp"`       //
	QueueDepth    int     `yaml:"queue_depth"`     // converted frames waiting for the UI
	MaxImages     int     `yaml:"max_images"`      // hardware buffer pool size
	Workers       int     `yaml:"workers"`         // converter goroutines, 0 = one per CPU
	MinIntervalMs int     `yaml:"min_interval_ms"` // throttle, 0 = every frame
}

// DisplayConfig describes the screen hosting the preview.
type DisplayConfig struct {
	WidthPx  int     `yaml:"width_px"`
	HeightPx int     `yaml:"height_px"`
	DPI      float64 `yaml:"dpi"`
	Rotation int     `yaml:"rotation"` // degrees: 0, 90, 180 or 270
}

// SimConfig drives the simulated camera stack.
type SimConfig struct {
	Stack             string `yaml:"stack"`              // "camera2" (YUV) or "avfoundation" (BGRA)
	SensorOrientation int    `yaml:"sensor_orientation"` // degrees
	PixelStride       int    `yaml:"pixel_stride"`       // 1 = planar I420, 2 = semi-planar
	FrameIntervalMs   int    `yaml:"frame_interval_ms"`
	FocusFrames       int    `yaml:"focus_frames"` // results before AF reports locked
	FlashAvailable    bool   `yaml:"flash_available"`
	LowLight          bool   `yaml:"low_light"`     // AE reports FlashRequired
	OmitMetadata      bool   `yaml:"omit_metadata"` // results carry no AF/AE state
}

// GStreamerConfig drives the V4L2 stack.
type GStreamerConfig struct {
	Device string `yaml:"device"` // e.g. /dev/video0
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// FlashConfig describes a GPIO-driven flash (LED or strobe trigger).
type FlashConfig struct {
	Enabled    bool `yaml:"enabled"`
	Pin        int  `yaml:"pin"`         // BCM pin number
	DurationMs int  `yaml:"duration_ms"` // max time the flash stays on
}

// OutputConfig tells the sample app where pictures go.
type OutputConfig struct {
	Dir string `yaml:"dir"` // empty = XDG pictures dir + /unicam
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Preview   PreviewConfig   `yaml:"preview"`
	Display   DisplayConfig   `yaml:"display"`
	Sim       SimConfig       `yaml:"sim"`
	GStreamer GStreamerConfig `yaml:"gstreamer"`
	Flash     FlashConfig     `yaml:"flash"`
	Output    OutputConfig    `yaml:"output"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that could escape the config directories.
// The file must be a .yaml file located directly in a "configs" or "unicam" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	parent := filepath.Base(filepath.Dir(clean))
	if parent != "configs" && parent != "unicam" {
		return fmt.Errorf("config path %q must be inside a configs/ or unicam/ directory", path)
	}
	return nil
}

// DefaultPath returns the XDG config file if one exists, else configs/default.yaml.
func DefaultPath() string {
	if p, err := xdg.SearchConfigFile(xdgRelPath); err == nil {
		return p
	}
	return filepath.Join("configs", "default.yaml")
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.Camera.Driver {
	case "sim", "gstreamer":
	case "":
		return errors.New("camera.driver is required")
	default:
		return fmt.Errorf("camera.driver must be sim or gstreamer, got %q", cfg.Camera.Driver)
	}
	switch cfg.Camera.Logical {
	case "":
		cfg.Camera.Logical = "rear"
	case "front", "rear":
	default:
		return fmt.Errorf("camera.logical must be front or rear, got %q", cfg.Camera.Logical)
	}

	// Default timeouts
	if cfg.Camera.OpenLockTimeoutMs <= 0 {
		cfg.Camera.OpenLockTimeoutMs = 2500
	}
	if cfg.Camera.OpenTimeoutMs <= 0 {
		cfg.Camera.OpenTimeoutMs = 3000
	}
	if cfg.Camera.ConfigureTimeoutMs <= 0 {
		cfg.Camera.ConfigureTimeoutMs = 5000
	}
	if cfg.Camera.CaptureTimeoutMs <= 0 {
		cfg.Camera.CaptureTimeoutMs = 3000
	}

	if cfg.Preview.WidthDp < 0 || cfg.Preview.HeightDp < 0 {
		return fmt.Errorf("preview size must be >= 0, got %.1fx%.1f dp", cfg.Preview.WidthDp, cfg.Preview.HeightDp)
	}
	if cfg.Preview.QueueDepth <= 0 {
		cfg.Preview.QueueDepth = 2
	}
	if cfg.Preview.MaxImages <= 0 {
		cfg.Preview.MaxImages = 4
	}
	if cfg.Preview.Workers < 0 {
		return fmt.Errorf("preview.workers must be >= 0, got %d", cfg.Preview.Workers)
	}
	if cfg.Preview.MinIntervalMs < 0 {
		return fmt.Errorf("preview.min_interval_ms must be >= 0, got %d", cfg.Preview.MinIntervalMs)
	}

	if cfg.Display.WidthPx <= 0 {
		cfg.Display.WidthPx = 1920
	}
	if cfg.Display.HeightPx <= 0 {
		cfg.Display.HeightPx = 1080
	}
	if cfg.Display.DPI <= 0 {
		cfg.Display.DPI = 160
	}
	switch cfg.Display.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("display.rotation must be 0, 90, 180 or 270, got %d", cfg.Display.Rotation)
	}

	switch cfg.Sim.Stack {
	case "":
		cfg.Sim.Stack = "camera2"
	case "camera2", "avfoundation":
	default:
		return fmt.Errorf("sim.stack must be camera2 or avfoundation, got %q", cfg.Sim.Stack)
	}
	switch cfg.Sim.PixelStride {
	case 0:
		cfg.Sim.PixelStride = 1
	case 1, 2:
	default:
		return fmt.Errorf("sim.pixel_stride must be 1 or 2, got %d", cfg.Sim.PixelStride)
	}
	if cfg.Sim.SensorOrientation%90 != 0 {
		return fmt.Errorf("sim.sensor_orientation must be a multiple of 90, got %d", cfg.Sim.SensorOrientation)
	}
	if cfg.Sim.FrameIntervalMs <= 0 {
		cfg.Sim.FrameIntervalMs = 33
	}
	if cfg.Sim.FocusFrames <= 0 {
		cfg.Sim.FocusFrames = 3
	}

	if cfg.GStreamer.Device == "" {
		cfg.GStreamer.Device = "/dev/video0"
	}
	if cfg.GStreamer.Width <= 0 {
		cfg.GStreamer.Width = 1280
	}
	if cfg.GStreamer.Height <= 0 {
		cfg.GStreamer.Height = 720
	}
	if cfg.GStreamer.FPS <= 0 {
		cfg.GStreamer.FPS = 30
	}

	if cfg.Flash.Enabled && cfg.Flash.Pin <= 0 {
		return fmt.Errorf("flash.pin must be > 0 when flash is enabled, got %d", cfg.Flash.Pin)
	}
	if cfg.Flash.DurationMs <= 0 {
		cfg.Flash.DurationMs = 150
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	return nil
}

// OpenLockTimeout returns how long Open waits for the device lock.
func (c *Config) OpenLockTimeout() time.Duration {
	return time.Duration(c.Camera.OpenLockTimeoutMs) * time.Millisecond
}

// OpenTimeout returns how long Open waits for the device.
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.Camera.OpenTimeoutMs) * time.Millisecond
}

// ConfigureTimeout returns how long session configuration may take.
func (c *Config) ConfigureTimeout() time.Duration {
	return time.Duration(c.Camera.ConfigureTimeoutMs) * time.Millisecond
}

// CaptureTimeout returns how long TakePicture waits for the still.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// MinFrameInterval returns the preview throttle interval (0 = none).
func (c *Config) MinFrameInterval() time.Duration {
	return time.Duration(c.Preview.MinIntervalMs) * time.Millisecond
}

// SimFrameInterval returns the simulated sensor frame period.
func (c *Config) SimFrameInterval() time.Duration {
	return time.Duration(c.Sim.FrameIntervalMs) * time.Millisecond
}

// FlashDuration returns the max on-time of the GPIO flash.
func (c *Config) FlashDuration() time.Duration {
	return time.Duration(c.Flash.DurationMs) * time.Millisecond
}

// OutputDir returns where pictures are written.
func (c *Config) OutputDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return filepath.Join(xdg.UserDirs.Pictures, "unicam")
}
