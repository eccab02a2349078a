package decoder

import (
	"fmt"

	"github.com/zsiec/scrub/internal/cache"
	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/media"
	"github.com/zsiec/scrub/internal/prefetch"
)

// Config controls one Decoder. ThreadCount 0 lets the engine choose.
type Config struct {
	PreferHardware  bool              `yaml:"prefer_hardware" mapstructure:"prefer_hardware"`
	L1Capacity      int               `yaml:"l1_capacity" mapstructure:"l1_capacity"`
	L2Capacity      int               `yaml:"l2_capacity" mapstructure:"l2_capacity"`
	L3Capacity      int               `yaml:"l3_capacity" mapstructure:"l3_capacity"`
	EnablePrefetch  bool              `yaml:"enable_prefetch" mapstructure:"enable_prefetch"`
	ThreadCount     int               `yaml:"thread_count" mapstructure:"thread_count"`
	PrefetchThreads int               `yaml:"prefetch_threads" mapstructure:"prefetch_threads"`
	PixelFormat     media.PixelFormat `yaml:"-" mapstructure:"-"`
}

// DefaultConfig balances memory and responsiveness.
func DefaultConfig() Config {
	return Config{
		PreferHardware:  true,
		L1Capacity:      30,
		L2Capacity:      100,
		L3Capacity:      500,
		EnablePrefetch:  true,
		PrefetchThreads: prefetch.DefaultThreads,
		PixelFormat:     media.PixelFormatBGRA,
	}
}

// PerformanceConfig doubles the caches of DefaultConfig.
func PerformanceConfig() Config {
	c := DefaultConfig()
	c.L1Capacity, c.L2Capacity, c.L3Capacity = 60, 200, 1000
	return c
}

// LowMemoryConfig keeps small caches, disables prefetch and decodes to NV12.
func LowMemoryConfig() Config {
	c := DefaultConfig()
	c.L1Capacity, c.L2Capacity, c.L3Capacity = 15, 50, 100
	c.EnablePrefetch = false
	c.ThreadCount = 2
	c.PixelFormat = media.PixelFormatNV12
	return c
}

// ScrubbingConfig favours a large cold tier for fast back-and-forth scrubs.
func ScrubbingConfig() Config {
	c := DefaultConfig()
	c.L1Capacity, c.L2Capacity, c.L3Capacity = 45, 200, 800
	return c
}

// Preset returns the named preset: default, performance, low-memory or
// scrubbing.
func Preset(name string) (Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "performance":
		return PerformanceConfig(), nil
	case "low-memory", "low_memory":
		return LowMemoryConfig(), nil
	case "scrubbing":
		return ScrubbingConfig(), nil
	}
	return Config{}, fmt.Errorf("decoder: unknown preset %q", name)
}

// Validate rejects negative counts.
func (c Config) Validate() error {
	if c.L1Capacity < 0 || c.L2Capacity < 0 || c.L3Capacity < 0 {
		return fmt.Errorf("decoder: negative cache capacity %d/%d/%d", c.L1Capacity, c.L2Capacity, c.L3Capacity)
	}
	if c.ThreadCount < 0 {
		return fmt.Errorf("decoder: negative thread count %d", c.ThreadCount)
	}
	if c.PrefetchThreads < 0 {
		return fmt.Errorf("decoder: negative prefetch thread count %d", c.PrefetchThreads)
	}
	return nil
}

func (c Config) cacheConfig() cache.Config {
	return cache.Config{
		L1Capacity:     c.L1Capacity,
		L2Capacity:     c.L2Capacity,
		L3Capacity:     c.L3Capacity,
		EnablePrefetch: c.EnablePrefetch,
	}
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		PreferHardware: c.PreferHardware,
		ThreadCount:    c.ThreadCount,
		PixelFormat:    c.PixelFormat,
	}
}
