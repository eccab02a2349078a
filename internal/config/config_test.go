package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/zsiec/scrub/internal/media"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("scrub", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return Load(fs)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := load(t)
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.Decoder
	if d.L1Capacity != 30 || d.L2Capacity != 100 || d.L3Capacity != 500 || !d.EnablePrefetch {
		t.Errorf("decoder = %+v", d)
	}
	if d.PixelFormat != media.PixelFormatBGRA {
		t.Errorf("pixel format = %v", d.PixelFormat)
	}
	if cfg.Scrub.Steps != 60 || cfg.Scrub.Tolerance != 20*time.Millisecond || cfg.Scrub.Velocity != 2 {
		t.Errorf("scrub = %+v", cfg.Scrub)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadPresetFlag(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, "--preset", "low-memory")
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.Decoder
	if d.L1Capacity != 15 || d.L3Capacity != 100 || d.EnablePrefetch || d.ThreadCount != 2 {
		t.Errorf("decoder = %+v", d)
	}
	if d.PixelFormat != media.PixelFormatNV12 {
		t.Errorf("pixel format = %v, want nv12", d.PixelFormat)
	}
}

func TestLoadFlagsOverridePreset(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, "-p", "performance", "--l2", "7", "--pixel-format", "yuv420p",
		"--tolerance", "5ms", "--velocity=-1.5")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Decoder.L1Capacity != 60 || cfg.Decoder.L2Capacity != 7 {
		t.Errorf("decoder = %+v", cfg.Decoder)
	}
	if cfg.Decoder.PixelFormat != media.PixelFormatYUV420P {
		t.Errorf("pixel format = %v", cfg.Decoder.PixelFormat)
	}
	if cfg.Scrub.Tolerance != 5*time.Millisecond || cfg.Scrub.Velocity != -1.5 {
		t.Errorf("scrub = %+v", cfg.Scrub)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrub.yaml")
	yaml := `preset: scrubbing
decoder:
  l1_capacity: 50
  l2_capacity: 40
logging:
  level: debug
scrub:
  interval: 25ms
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCRUB_DECODER_L2_CAPACITY", "77")
	t.Setenv("SCRUB_SCRUB_STEPS", "5")

	cfg, err := load(t, "--config", path, "--l1", "99")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.File != path {
		t.Errorf("file = %q, want %q", cfg.File, path)
	}
	if cfg.Preset != "scrubbing" {
		t.Errorf("preset = %q", cfg.Preset)
	}
	d := cfg.Decoder
	if d.L1Capacity != 99 {
		t.Errorf("L1 = %d, want flag value 99", d.L1Capacity)
	}
	if d.L2Capacity != 77 {
		t.Errorf("L2 = %d, want env value 77", d.L2Capacity)
	}
	if d.L3Capacity != 800 {
		t.Errorf("L3 = %d, want preset value 800", d.L3Capacity)
	}
	if cfg.Logging.Level != "debug" || cfg.Scrub.Interval != 25*time.Millisecond || cfg.Scrub.Steps != 5 {
		t.Errorf("logging %+v scrub %+v", cfg.Logging, cfg.Scrub)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
	}{
		{"unknown preset", []string{"--preset", "turbo"}},
		{"unknown pixel format", []string{"--pixel-format", "rgb565"}},
		{"negative capacity", []string{"--l1", "-1"}},
		{"zero steps", []string{"--steps", "0"}},
		{"bad log format", []string{"--log-format", "xml"}},
		{"missing file", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}},
	}
	for _, tt := range tests {
		if _, err := load(t, tt.args...); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
