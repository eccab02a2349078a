// Package prefetch decodes frames ahead of the scrub playhead on background
// workers and stores them in the shared frame cache.
package prefetch

import (
	"math"
	"sync/atomic"

	"github.com/zsiec/scrub/internal/cache"
	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/media"
)

// Context is everything a worker needs to open its own engine and fill the
// cache. It is built once per prepared source and not modified afterwards.
type Context struct {
	Path         string
	EngineConfig engine.Config
	Open         engine.Opener
	Cache        *cache.Cache
	// Playhead is written by the foreground decoder and read by workers to
	// notice when the user has scrubbed past their target.
	Playhead   *atomic.Int64
	FrameRate  float64
	DurationUS int64
}

// FrameDuration returns the frame interval in microseconds.
func (c *Context) FrameDuration() int64 {
	return media.FrameDurationFor(c.FrameRate)
}

func (c *Context) frameRate() float64 {
	if c.FrameRate <= 0 {
		return media.DefaultFrameRate
	}
	return c.FrameRate
}

// FrameIndex returns the number of the frame nearest t.
func (c *Context) FrameIndex(t int64) int64 {
	return int64(math.Round(float64(t) * c.frameRate() / 1e6))
}

// FrameTime returns the presentation time of frame n. Computing it from
// the frame number keeps long sources free of accumulated rounding.
func (c *Context) FrameTime(n int64) int64 {
	return int64(float64(n) * 1e6 / c.frameRate())
}
