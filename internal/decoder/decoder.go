// Package decoder is the facade a host drives while scrubbing: frame lookup
// through the cache, foreground decoding on a miss, sequential playback,
// and background prefetch.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/zsiec/scrub/internal/cache"
	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/media"
	"github.com/zsiec/scrub/internal/prefetch"
)

const (
	// maxScanFrames bounds the frames decoded for one GetFrameAt miss.
	maxScanFrames = 100
	// seekGapFactor: targets further ahead than this many tolerances (or
	// frames, whichever is larger) are reached by seeking.
	seekGapFactor = 10
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithOpener replaces DefaultOpener.
func WithOpener(open engine.Opener) Option {
	return func(d *Decoder) { d.open = open }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(d *Decoder) { d.log = log }
}

// WithPrefetchOptions passes extra options to the prefetch manager.
func WithPrefetchOptions(opts ...prefetch.Option) Option {
	return func(d *Decoder) { d.prefetchOpts = append(d.prefetchOpts, opts...) }
}

// Decoder serves frames for one source. All methods are safe for
// concurrent use; foreground decoding is serialized.
type Decoder struct {
	path         string
	cfg          Config
	open         engine.Opener
	log          *slog.Logger
	cache        *cache.Cache
	prefetchOpts []prefetch.Option

	mu   sync.Mutex // guards eng, next, info and the prepare transition
	eng  engine.Engine
	info media.MediaInfo
	md   media.StreamMetadata
	// next is a lower bound on the PTS the foreground engine returns next.
	next int64

	pmu      sync.Mutex
	prefetch *prefetch.Manager

	misses singleflight.Group

	prepared    atomic.Bool
	decoding    atomic.Bool
	closed      atomic.Bool
	currentTime atomic.Int64
	playhead    atomic.Int64
}

// New returns an unprepared Decoder for path. No I/O happens until Prepare.
func New(path string, cfg Config, opts ...Option) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{
		path:  path,
		cfg:   cfg,
		open:  DefaultOpener,
		cache: cache.New(cfg.cacheConfig()),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "decoder", "source", path)
	return d, nil
}

// Prepare opens the foreground engine and loads the media description.
// Calling it again after success is a no-op.
func (d *Decoder) Prepare() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrNotPrepared
	}
	if d.prepared.Load() {
		return nil
	}

	eng, err := d.open(d.path, d.cfg.engineConfig())
	if err != nil {
		d.log.Error("prepare failed", "error", err)
		return err
	}
	d.eng = eng
	d.info = eng.Info()
	d.md = eng.Metadata()
	d.next = 0
	d.prepared.Store(true)

	d.log.Info("decoder prepared",
		"duration_us", d.md.DurationUS,
		"fps", d.md.FrameRate,
		"width", d.md.Width,
		"height", d.md.Height,
		"container", d.info.ContainerFormat)
	return nil
}

// MediaInfo returns the source description, and false before Prepare.
func (d *Decoder) MediaInfo() (media.MediaInfo, bool) {
	if !d.prepared.Load() {
		return media.MediaInfo{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, true
}

// StreamMetadata returns the stream properties used for prefetch planning.
func (d *Decoder) StreamMetadata() media.StreamMetadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.md
}

func (d *Decoder) Path() string            { return d.path }
func (d *Decoder) Config() Config          { return d.cfg }
func (d *Decoder) IsPrepared() bool        { return d.prepared.Load() }
func (d *Decoder) IsDecoding() bool        { return d.decoding.Load() }
func (d *Decoder) CurrentTime() int64      { return d.currentTime.Load() }
func (d *Decoder) Cache() *cache.Cache     { return d.cache }
func (d *Decoder) Playhead() *atomic.Int64 { return &d.playhead }

// IsPrefetching reports whether a prefetch generation is running.
func (d *Decoder) IsPrefetching() bool {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	return d.prefetch != nil && d.prefetch.IsRunning()
}

// Seek repositions the foreground engine at t.
func (d *Decoder) Seek(t int64) error {
	if !d.prepared.Load() {
		return ErrNotPrepared
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eng == nil {
		return ErrNotPrepared
	}
	if err := d.eng.Seek(t); err != nil {
		return err
	}
	d.next = t
	d.currentTime.Store(t)
	d.playhead.Store(t)
	return nil
}

// GetFrameAt returns the frame within tolerance of t, or the first frame
// after it. The cache is consulted first; on a miss the foreground engine
// decodes forward, caching every frame it passes. A nil frame with a nil
// error means the stream ended or the scan limit was reached first.
func (d *Decoder) GetFrameAt(t, tolerance int64) (*media.VideoFrame, error) {
	if !d.prepared.Load() {
		return nil, ErrNotPrepared
	}
	d.playhead.Store(t)
	if f, ok := d.cache.Get(t, tolerance); ok {
		return f, nil
	}

	key := fmt.Sprintf("%d/%d", t, tolerance)
	v, err, _ := d.misses.Do(key, func() (any, error) {
		return d.decodeAt(t, tolerance)
	})
	f, _ := v.(*media.VideoFrame)
	if f != nil {
		// Concurrent callers share one result; each gets its own record.
		f = f.Clone()
	}
	return f, err
}

func (d *Decoder) decodeAt(t, tolerance int64) (*media.VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eng == nil {
		return nil, ErrNotPrepared
	}

	gap := seekGapFactor * max(tolerance, d.md.FrameDuration())
	if t < d.next || t-d.next > gap {
		if err := d.eng.Seek(t); err != nil {
			return nil, err
		}
		d.next = t
	}

	for range maxScanFrames {
		f, err := d.eng.DecodeNextFrame()
		if errors.Is(err, io.EOF) {
			d.cache.RecordMiss()
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		d.next = f.PTS + 1
		d.currentTime.Store(f.PTS)

		if f.IsKeyframe {
			d.cache.InsertL2(f.PTS, f)
		}
		d.cache.InsertL1(f.PTS, f)

		if abs(f.PTS-t) <= tolerance || f.PTS > t+tolerance {
			return f, nil
		}
	}
	d.log.Warn("frame scan limit reached", "target_us", t, "limit", maxScanFrames)
	d.cache.RecordMiss()
	return nil, nil
}

// StartDecoding enables GetNextFrame.
func (d *Decoder) StartDecoding() error {
	if !d.prepared.Load() {
		return ErrNotPrepared
	}
	d.decoding.Store(true)
	return nil
}

// StopDecoding disables GetNextFrame.
func (d *Decoder) StopDecoding() {
	d.decoding.Store(false)
}

// GetNextFrame returns the next frame in playback order, or nil when
// decoding is stopped or the stream has ended. Keyframes are cached in L2.
func (d *Decoder) GetNextFrame() (*media.VideoFrame, error) {
	if !d.prepared.Load() {
		return nil, ErrNotPrepared
	}
	if !d.decoding.Load() {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eng == nil {
		return nil, ErrNotPrepared
	}
	f, err := d.eng.DecodeNextFrame()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.next = f.PTS + 1
	d.currentTime.Store(f.PTS)
	if f.IsKeyframe {
		d.cache.InsertL2(f.PTS, f)
	}
	return f, nil
}

// StartPrefetch starts background decoding in direction from the current
// playhead. Direction 0 stops prefetch. It does nothing when prefetch is
// disabled in the config.
func (d *Decoder) StartPrefetch(direction int, velocity float64) error {
	if !d.prepared.Load() {
		return ErrNotPrepared
	}
	if !d.cfg.EnablePrefetch {
		return nil
	}
	if direction == 0 {
		d.StopPrefetch()
		return nil
	}

	d.pmu.Lock()
	defer d.pmu.Unlock()
	if d.prefetch == nil {
		d.mu.Lock()
		md, eng := d.md, d.eng
		d.mu.Unlock()
		open := d.open
		// Engines that can share their index skip rescanning the source.
		if fk, ok := eng.(engine.Forker); ok {
			open = func(string, engine.Config) (engine.Engine, error) { return fk.Fork() }
		}
		pctx := &prefetch.Context{
			Path:         d.path,
			EngineConfig: d.cfg.engineConfig(),
			Open:         open,
			Cache:        d.cache,
			Playhead:     &d.playhead,
			FrameRate:    md.FrameRate,
			DurationUS:   md.DurationUS,
		}
		opts := []prefetch.Option{prefetch.WithLogger(d.log)}
		if d.cfg.PrefetchThreads > 0 {
			opts = append(opts, prefetch.WithThreads(d.cfg.PrefetchThreads))
		}
		d.prefetch = prefetch.NewManager(pctx, append(opts, d.prefetchOpts...)...)
	}
	return d.prefetch.Start(direction, velocity, d.playhead.Load())
}

// StopPrefetch stops and joins the prefetch workers.
func (d *Decoder) StopPrefetch() {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	if d.prefetch != nil {
		d.prefetch.Stop()
	}
}

// PrefetchResults returns the prefetch result channel, or nil before the
// first StartPrefetch.
func (d *Decoder) PrefetchResults() <-chan prefetch.Result {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	if d.prefetch == nil {
		return nil
	}
	return d.prefetch.Results()
}

// Reload reopens the source after it changed on disk. The prefetch
// manager is retired and rebuilt by the next StartPrefetch, and cached
// frames are dropped. On failure the decoder is left unprepared.
func (d *Decoder) Reload() error {
	if d.closed.Load() {
		return ErrNotPrepared
	}
	d.pmu.Lock()
	defer d.pmu.Unlock()
	if d.prefetch != nil {
		d.prefetch.Close()
		d.prefetch = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eng != nil {
		d.eng.Close()
		d.eng = nil
	}
	d.cache.Clear()
	d.next = 0

	eng, err := d.open(d.path, d.cfg.engineConfig())
	if err != nil {
		d.prepared.Store(false)
		d.log.Error("reload failed", "error", err)
		return err
	}
	d.eng = eng
	d.info = eng.Info()
	d.md = eng.Metadata()
	d.prepared.Store(true)
	d.log.Info("decoder reloaded",
		"duration_us", d.md.DurationUS,
		"fps", d.md.FrameRate,
		"width", d.md.Width,
		"height", d.md.Height)
	return nil
}

// HasAudio reports whether the source carries an audio track.
func (d *Decoder) HasAudio() bool {
	_, ok := d.primaryAudio()
	return ok
}

// AudioSampleRate returns the primary audio track's sample rate, or 0.
func (d *Decoder) AudioSampleRate() int {
	a, _ := d.primaryAudio()
	return a.SampleRate
}

// AudioChannels returns the primary audio track's channel count, or 0.
func (d *Decoder) AudioChannels() int {
	a, _ := d.primaryAudio()
	return a.Channels
}

func (d *Decoder) primaryAudio() (media.AudioTrack, bool) {
	info, ok := d.MediaInfo()
	if !ok {
		return media.AudioTrack{}, false
	}
	return info.PrimaryAudio()
}

// PrimeAudioAfterSeek positions audio on the frame covering the current
// time and returns how many frames are buffered. Call it after Seek.
func (d *Decoder) PrimeAudioAfterSeek() (int, error) {
	if !d.prepared.Load() {
		return 0, ErrNotPrepared
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	as, ok := d.eng.(engine.AudioSource)
	if !ok {
		return 0, nil
	}
	return as.SeekAudio(d.currentTime.Load())
}

// GetNextAudioFrame returns the next audio frame, or nil when the source
// has no audio or audio has ended.
func (d *Decoder) GetNextAudioFrame() (*media.AudioFrame, error) {
	if !d.prepared.Load() {
		return nil, ErrNotPrepared
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	as, ok := d.eng.(engine.AudioSource)
	if !ok {
		return nil, nil
	}
	f, err := as.DecodeNextAudioFrame()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return f, err
}

func (d *Decoder) CacheStatistics() cache.Statistics { return d.cache.Statistics() }

func (d *Decoder) ClearCache() { d.cache.Clear() }

// Close stops playback and prefetch and releases the engine. The decoder
// cannot be prepared again.
func (d *Decoder) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.StopDecoding()

	d.pmu.Lock()
	if d.prefetch != nil {
		d.prefetch.Close()
	}
	d.pmu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepared.Store(false)
	var err error
	if d.eng != nil {
		err = d.eng.Close()
		d.eng = nil
	}
	d.log.Debug("decoder closed")
	return err
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
