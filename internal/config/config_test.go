package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"configs", "unicam"} {
		cfgDir := filepath.Join(dir, sub)
		if err := os.Mkdir(cfgDir, 0o755); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(cfgDir, "default.yaml")
		if err := ValidateConfigPath(path); err != nil {
			t.Errorf("expected valid path %q, got error: %v", path, err)
		}
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
		"configs/../unicam/../../x.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Must not panic; the result is OS-dependent.
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  logical: "front"
  driver: "sim"
  open_timeout_ms: 1000
preview:
  width_dp: 400
  height_dp: 225
  queue_depth: 3
display:
  width_px: 1280
  height_px: 720
  dpi: 420.5
  rotation: 90
sim:
  stack: "camera2"
  sensor_orientation: 270
  pixel_stride: 2
  flash_available: true
flash:
  enabled: true
  pin: 18
  duration_ms: 80
output:
  dir: "/tmp/pictures"
defaults:
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Logical != "front" {
		t.Errorf("camera.logical = %q, want front", cfg.Camera.Logical)
	}
	if cfg.Camera.OpenTimeoutMs != 1000 {
		t.Errorf("camera.open_timeout_ms = %d, want 1000", cfg.Camera.OpenTimeoutMs)
	}
	if cfg.Preview.WidthDp != 400 || cfg.Preview.HeightDp != 225 {
		t.Errorf("preview = %vx%v dp, want 400x225", cfg.Preview.WidthDp, cfg.Preview.HeightDp)
	}
	if cfg.Preview.QueueDepth != 3 {
		t.Errorf("preview.queue_depth = %d, want 3", cfg.Preview.QueueDepth)
	}
	if cfg.Display.DPI != 420.5 {
		t.Errorf("display.dpi = %v, want 420.5", cfg.Display.DPI)
	}
	if cfg.Display.Rotation != 90 {
		t.Errorf("display.rotation = %d, want 90", cfg.Display.Rotation)
	}
	if cfg.Sim.PixelStride != 2 {
		t.Errorf("sim.pixel_stride = %d, want 2", cfg.Sim.PixelStride)
	}
	if !cfg.Flash.Enabled || cfg.Flash.Pin != 18 {
		t.Errorf("flash = %+v, want enabled on pin 18", cfg.Flash)
	}
	if cfg.OutputDir() != "/tmp/pictures" {
		t.Errorf("OutputDir() = %q, want /tmp/pictures", cfg.OutputDir())
	}
}

func TestLoad_MissingDriver(t *testing.T) {
	yaml := `
camera:
  logical: "rear"
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing camera.driver, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown_driver", "camera:\n  driver: \"usb\"\n"},
		{"unknown_logical", "camera:\n  driver: \"sim\"\n  logical: \"side\"\n"},
		{"odd_rotation", "camera:\n  driver: \"sim\"\ndisplay:\n  rotation: 45\n"},
		{"bad_stack", "camera:\n  driver: \"sim\"\nsim:\n  stack: \"directshow\"\n"},
		{"bad_pixel_stride", "camera:\n  driver: \"sim\"\nsim:\n  pixel_stride: 3\n"},
		{"bad_orientation", "camera:\n  driver: \"sim\"\nsim:\n  sensor_orientation: 30\n"},
		{"negative_preview", "camera:\n  driver: \"sim\"\npreview:\n  width_dp: -1\n"},
		{"negative_workers", "camera:\n  driver: \"sim\"\npreview:\n  workers: -2\n"},
		{"flash_without_pin", "camera:\n  driver: \"sim\"\nflash:\n  enabled: true\n"},
		{"debug_level_high", "camera:\n  driver: \"sim\"\ndefaults:\n  debug_level: " + formatFloat(5) + "\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	yaml := `
camera:
  driver: "sim"
`
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Logical != "rear" {
		t.Errorf("camera.logical default = %q, want rear", cfg.Camera.Logical)
	}
	if cfg.Camera.OpenLockTimeoutMs != 2500 {
		t.Errorf("open_lock_timeout_ms default = %d, want 2500", cfg.Camera.OpenLockTimeoutMs)
	}
	if cfg.Camera.OpenTimeoutMs != 3000 {
		t.Errorf("open_timeout_ms default = %d, want 3000", cfg.Camera.OpenTimeoutMs)
	}
	if cfg.Camera.ConfigureTimeoutMs != 5000 {
		t.Errorf("configure_timeout_ms default = %d, want 5000", cfg.Camera.ConfigureTimeoutMs)
	}
	if cfg.Camera.CaptureTimeoutMs != 3000 {
		t.Errorf("capture_timeout_ms default = %d, want 3000", cfg.Camera.CaptureTimeoutMs)
	}
	if cfg.Preview.QueueDepth != 2 {
		t.Errorf("queue_depth default = %d, want 2", cfg.Preview.QueueDepth)
	}
	if cfg.Preview.MaxImages != 4 {
		t.Errorf("max_images default = %d, want 4", cfg.Preview.MaxImages)
	}
	if cfg.Display.WidthPx != 1920 || cfg.Display.HeightPx != 1080 {
		t.Errorf("display default = %dx%d, want 1920x1080", cfg.Display.WidthPx, cfg.Display.HeightPx)
	}
	if cfg.Display.DPI != 160 {
		t.Errorf("dpi default = %v, want 160", cfg.Display.DPI)
	}
	if cfg.Sim.Stack != "camera2" {
		t.Errorf("sim.stack default = %q, want camera2", cfg.Sim.Stack)
	}
	if cfg.Sim.PixelStride != 1 {
		t.Errorf("sim.pixel_stride default = %d, want 1", cfg.Sim.PixelStride)
	}
	if cfg.GStreamer.Device != "/dev/video0" {
		t.Errorf("gstreamer.device default = %q, want /dev/video0", cfg.GStreamer.Device)
	}
	if cfg.Flash.DurationMs != 150 {
		t.Errorf("flash.duration_ms default = %d, want 150", cfg.Flash.DurationMs)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	if _, err := Load(path); err == nil {
		t.Error("expected error for empty config (camera.driver missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
camera:
  driver: "sim"
unknown_section:
  foo: bar
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Helper methods ----------

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Camera: CameraConfig{
			OpenLockTimeoutMs:  2500,
			OpenTimeoutMs:      3000,
			ConfigureTimeoutMs: 5000,
			CaptureTimeoutMs:   4000,
		},
		Preview: PreviewConfig{MinIntervalMs: 33},
		Sim:     SimConfig{FrameIntervalMs: 20},
		Flash:   FlashConfig{DurationMs: 150},
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"OpenLockTimeout", cfg.OpenLockTimeout(), 2500 * time.Millisecond},
		{"OpenTimeout", cfg.OpenTimeout(), 3 * time.Second},
		{"ConfigureTimeout", cfg.ConfigureTimeout(), 5 * time.Second},
		{"CaptureTimeout", cfg.CaptureTimeout(), 4 * time.Second},
		{"MinFrameInterval", cfg.MinFrameInterval(), 33 * time.Millisecond},
		{"SimFrameInterval", cfg.SimFrameInterval(), 20 * time.Millisecond},
		{"FlashDuration", cfg.FlashDuration(), 150 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("%s() = %v, want %v", tc.name, tc.got, tc.want)
			}
		})
	}
}

func TestConfig_OutputDirDefault(t *testing.T) {
	cfg := &Config{}
	got := cfg.OutputDir()
	if filepath.Base(got) != "unicam" {
		t.Errorf("OutputDir() = %q, want a path ending in unicam", got)
	}
}

// formatFloat is a test helper for embedding numbers into YAML strings.
func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
