// Package config loads scrub settings from a YAML file, SCRUB_* environment
// variables and command-line flags, in increasing order of precedence. The
// decoder preset supplies the defaults for every decoder key.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zsiec/scrub/internal/decoder"
	"github.com/zsiec/scrub/internal/logging"
	"github.com/zsiec/scrub/internal/media"
)

// EnvPrefix prefixes every environment override, e.g. SCRUB_DECODER_L1_CAPACITY.
const EnvPrefix = "SCRUB"

// Config is the full process configuration.
type Config struct {
	Preset  string         `mapstructure:"preset" yaml:"preset"`
	Decoder decoder.Config `mapstructure:"decoder" yaml:"decoder"`
	Logging logging.Config `mapstructure:"logging" yaml:"logging"`
	Scrub   ScrubConfig    `mapstructure:"scrub" yaml:"scrub"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// ScrubConfig drives the scrub simulation.
type ScrubConfig struct {
	Velocity    float64       `mapstructure:"velocity" yaml:"velocity"`
	Steps       int           `mapstructure:"steps" yaml:"steps"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	Tolerance   time.Duration `mapstructure:"tolerance" yaml:"tolerance"`
	Watch       bool          `mapstructure:"watch" yaml:"watch"`
	MaxDecoders int           `mapstructure:"max_decoders" yaml:"max_decoders"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"preset":           "preset",
	"prefer-hardware":  "decoder.prefer_hardware",
	"l1":               "decoder.l1_capacity",
	"l2":               "decoder.l2_capacity",
	"l3":               "decoder.l3_capacity",
	"prefetch":         "decoder.enable_prefetch",
	"threads":          "decoder.thread_count",
	"prefetch-threads": "decoder.prefetch_threads",
	"pixel-format":     "decoder.pixel_format",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-file":         "logging.file",
	"velocity":         "scrub.velocity",
	"steps":            "scrub.steps",
	"interval":         "scrub.interval",
	"tolerance":        "scrub.tolerance",
	"watch":            "scrub.watch",
	"max-decoders":     "scrub.max_decoders",
}

// RegisterFlags adds the configuration flags to fs. Flag defaults are only
// used when neither a preset, the file nor the environment sets the key.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "config file (default: ./scrub.yaml or the user config dir)")
	fs.StringP("preset", "p", "default", "decoder preset: default, performance, low-memory, scrubbing")
	fs.Bool("prefer-hardware", true, "prefer hardware decoding")
	fs.Int("l1", 0, "L1 cache capacity in frames")
	fs.Int("l2", 0, "L2 keyframe cache capacity in frames")
	fs.Int("l3", 0, "L3 prefetch cache capacity in frames")
	fs.Bool("prefetch", true, "enable background prefetch")
	fs.Int("threads", 0, "decoder threads (0 = engine default)")
	fs.Int("prefetch-threads", 0, "prefetch worker count")
	fs.String("pixel-format", "bgra", "output pixel format: bgra, nv12, yuv420p, annexb")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("log-file", "", "log to this file instead of stderr")
	fs.Float64("velocity", 2, "simulated scrub velocity (x realtime, negative scrubs backwards)")
	fs.Int("steps", 60, "number of simulated playhead moves")
	fs.Duration("interval", 10*time.Millisecond, "time between simulated playhead moves")
	fs.Duration("tolerance", 20*time.Millisecond, "frame lookup tolerance")
	fs.Bool("watch", false, "clear the cache when the source file changes")
	fs.Int("max-decoders", 8, "maximum open decoders")
}

// Load resolves the configuration for an already parsed fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("config: bind %s: %w", name, err)
			}
		}
	}

	file := ""
	if f := fs.Lookup("config"); f != nil {
		file = f.Value.String()
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("scrub")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "scrub"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	base, err := decoder.Preset(v.GetString("preset"))
	if err != nil {
		return nil, err
	}
	setDefaults(v, base)

	cfg := &Config{File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Decoder.PixelFormat, err = media.ParsePixelFormat(v.GetString("decoder.pixel_format"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, base decoder.Config) {
	v.SetDefault("preset", "default")
	v.SetDefault("decoder.prefer_hardware", base.PreferHardware)
	v.SetDefault("decoder.l1_capacity", base.L1Capacity)
	v.SetDefault("decoder.l2_capacity", base.L2Capacity)
	v.SetDefault("decoder.l3_capacity", base.L3Capacity)
	v.SetDefault("decoder.enable_prefetch", base.EnablePrefetch)
	v.SetDefault("decoder.thread_count", base.ThreadCount)
	v.SetDefault("decoder.prefetch_threads", base.PrefetchThreads)
	v.SetDefault("decoder.pixel_format", base.PixelFormat.String())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("scrub.velocity", 2.0)
	v.SetDefault("scrub.steps", 60)
	v.SetDefault("scrub.interval", 10*time.Millisecond)
	v.SetDefault("scrub.tolerance", 20*time.Millisecond)
	v.SetDefault("scrub.watch", false)
	v.SetDefault("scrub.max_decoders", 8)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Decoder.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Scrub.Steps <= 0 {
		return fmt.Errorf("config: scrub.steps must be positive, got %d", c.Scrub.Steps)
	}
	if c.Scrub.Tolerance < 0 || c.Scrub.Interval < 0 {
		return errors.New("config: negative scrub duration")
	}
	if c.Scrub.MaxDecoders < 0 {
		return fmt.Errorf("config: negative max_decoders %d", c.Scrub.MaxDecoders)
	}
	return nil
}
