package decoder

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/scrub/internal/cache"
	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/engine/synth"
	"github.com/zsiec/scrub/internal/engine/tsengine"
	"github.com/zsiec/scrub/internal/prefetch"
)

const clip = "synth:?fps=30&duration=2s&gop=30"

func prepared(t *testing.T, path string, cfg Config, opts ...Option) *Decoder {
	t.Helper()
	d, err := New(path, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Prepare(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// countingOpener records the synthetic engines it opens.
type countingOpener struct {
	mu      sync.Mutex
	engines []*synth.Engine
}

func (c *countingOpener) open(path string, cfg engine.Config) (engine.Engine, error) {
	e, err := synth.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.engines = append(c.engines, e.(*synth.Engine))
	c.mu.Unlock()
	return e, nil
}

func (c *countingOpener) first() *synth.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[0]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	d, err := New(clip, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, ok := d.MediaInfo(); ok {
		t.Error("media info available before prepare")
	}
	if err := d.Prepare(); err != nil {
		t.Fatal(err)
	}
	if err := d.Prepare(); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	info, ok := d.MediaInfo()
	if !ok || info.DurationUS != 2_000_000 || !info.HasVideo() {
		t.Errorf("media info = %+v (%v)", info, ok)
	}
	if md := d.StreamMetadata(); md.FrameRate != 30 {
		t.Errorf("frame rate = %v, want 30", md.FrameRate)
	}
}

func TestOperationsRequirePrepare(t *testing.T) {
	t.Parallel()
	d, _ := New(clip, DefaultConfig())
	defer d.Close()

	checks := map[string]error{
		"Seek":          d.Seek(0),
		"StartDecoding": d.StartDecoding(),
		"StartPrefetch": d.StartPrefetch(1, 1),
	}
	_, checks["GetFrameAt"] = d.GetFrameAt(0, 0)
	_, checks["GetNextFrame"] = d.GetNextFrame()
	for name, err := range checks {
		if !errors.Is(err, ErrNotPrepared) || CodeOf(err) != CodeNotPrepared {
			t.Errorf("%s: got %v, want ErrNotPrepared", name, err)
		}
	}
}

func TestPrepareMissingFile(t *testing.T) {
	t.Parallel()
	d, _ := New(filepath.Join(t.TempDir(), "missing.ts"), DefaultConfig())
	err := d.Prepare()
	if CodeOf(err) != CodeFileNotFound {
		t.Errorf("got %v (%v), want file-not-found", err, CodeOf(err))
	}
	if d.IsPrepared() {
		t.Error("decoder prepared after failure")
	}
}

func TestGetFrameAtFillsCacheThenHits(t *testing.T) {
	t.Parallel()
	d := prepared(t, clip, DefaultConfig())

	f, err := d.GetFrameAt(500_000, 20_000)
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || f.PTS != 500_000 || f.FrameNumber != 15 {
		t.Fatalf("got %+v, want frame 15", f)
	}
	// Seeked to keyframe 0 and decoded frames 0 through 15.
	if n := d.Cache().Len(cache.L1); n != 16 {
		t.Errorf("L1 = %d, want 16", n)
	}
	if n := d.Cache().Len(cache.L2); n != 1 {
		t.Errorf("L2 = %d, want 1", n)
	}
	if d.CurrentTime() != 500_000 || d.Playhead().Load() != 500_000 {
		t.Errorf("current %d playhead %d", d.CurrentTime(), d.Playhead().Load())
	}

	again, err := d.GetFrameAt(500_000, 20_000)
	if err != nil || again == nil || again.PTS != 500_000 {
		t.Fatalf("second lookup: %+v, %v", again, err)
	}
	s := d.CacheStatistics()
	if s.L1Hits != 1 || s.Misses != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestGetFrameAtPastEndRecordsMiss(t *testing.T) {
	t.Parallel()
	d := prepared(t, clip, DefaultConfig())

	f, err := d.GetFrameAt(10_000_000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if f != nil {
		t.Errorf("got frame %d, want nil", f.PTS)
	}
	if s := d.CacheStatistics(); s.Misses != 1 {
		t.Errorf("misses = %d, want 1", s.Misses)
	}
}

func TestGetFrameAtSeeksOnlyWhenNeeded(t *testing.T) {
	t.Parallel()
	co := &countingOpener{}
	d := prepared(t, clip, DefaultConfig(), WithOpener(co.open))
	eng := co.first()

	for _, ts := range []int64{0, 100_000, 200_000} {
		f, err := d.GetFrameAt(ts, 1000)
		if err != nil || f == nil {
			t.Fatalf("GetFrameAt(%d): %v, %v", ts, f, err)
		}
	}
	if eng.Seeks() != 0 {
		t.Errorf("forward lookups seeked %d times", eng.Seeks())
	}

	d.ClearCache()
	if _, err := d.GetFrameAt(0, 1000); err != nil {
		t.Fatal(err)
	}
	if eng.Seeks() != 1 {
		t.Errorf("backward lookup: seeks = %d, want 1", eng.Seeks())
	}
}

func TestSequentialDecoding(t *testing.T) {
	t.Parallel()
	d := prepared(t, clip, DefaultConfig())

	if f, err := d.GetNextFrame(); f != nil || err != nil {
		t.Fatalf("before StartDecoding: %v, %v", f, err)
	}
	if err := d.StartDecoding(); err != nil {
		t.Fatal(err)
	}
	if !d.IsDecoding() {
		t.Error("IsDecoding = false")
	}
	var n int
	for {
		f, err := d.GetNextFrame()
		if err != nil {
			t.Fatal(err)
		}
		if f == nil {
			break
		}
		if f.FrameNumber != int64(n) {
			t.Errorf("frame %d, want %d", f.FrameNumber, n)
		}
		n++
	}
	if n != 60 {
		t.Errorf("decoded %d frames, want 60", n)
	}
	if got := d.Cache().Len(cache.L2); got != 2 {
		t.Errorf("L2 = %d keyframes, want 2", got)
	}
	d.StopDecoding()
	if d.IsDecoding() {
		t.Error("IsDecoding after stop")
	}
}

func TestStartPrefetchDisabled(t *testing.T) {
	t.Parallel()
	d := prepared(t, clip, LowMemoryConfig())
	if err := d.StartPrefetch(1, 1); err != nil {
		t.Fatal(err)
	}
	if d.IsPrefetching() || d.PrefetchResults() != nil {
		t.Error("prefetch ran with prefetch disabled")
	}
}

func TestStartPrefetchFillsL3(t *testing.T) {
	t.Parallel()
	d := prepared(t, "synth:?fps=30&duration=10s", DefaultConfig(),
		WithPrefetchOptions(prefetch.WithThrottle(0, 0, 0)))

	if err := d.Seek(1_000_000); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPrefetch(1, 2); err != nil {
		t.Fatal(err)
	}
	if !d.IsPrefetching() || d.PrefetchResults() == nil {
		t.Fatal("prefetch not running")
	}
	waitFor(t, "L3 fill", func() bool { return d.Cache().Len(cache.L3) >= 20 })

	// Prefetched frames serve foreground lookups.
	if f, err := d.GetFrameAt(1_100_000, 1000); err != nil || f == nil {
		t.Errorf("lookup after prefetch: %v, %v", f, err)
	}
	if s := d.CacheStatistics(); s.L3Hits != 1 {
		t.Errorf("L3 hits = %d, want 1", s.L3Hits)
	}

	if err := d.StartPrefetch(0, 0); err != nil {
		t.Fatal(err)
	}
	if d.IsPrefetching() {
		t.Error("direction 0 should stop prefetch")
	}
}

func TestConcurrentMissesShareOneDecode(t *testing.T) {
	t.Parallel()
	d := prepared(t, clip, DefaultConfig())

	var wg sync.WaitGroup
	frames := make([]int64, 8)
	for i := range frames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := d.GetFrameAt(1_500_000, 20_000)
			if err != nil || f == nil {
				frames[i] = -1
				return
			}
			frames[i] = f.PTS
		}()
	}
	wg.Wait()
	for i, pts := range frames {
		if pts != 1_500_000 {
			t.Errorf("caller %d got %d", i, pts)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	d, _ := New(clip, DefaultConfig())
	if err := d.Prepare(); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPrefetch(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetFrameAt(0, 0); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("after close: got %v", err)
	}
	if err := d.Prepare(); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("prepare after close: got %v", err)
	}
}

func TestTransportStreamSource(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clip.ts")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tsengine.Generate(out, tsengine.GenerateOptions{
		FrameRate: 25, Duration: 4 * time.Second, GOP: 25, Width: 640, Height: 360,
	})
	out.Close()
	if err != nil {
		t.Fatal(err)
	}

	d := prepared(t, path, DefaultConfig())
	md := d.StreamMetadata()
	if md.Width != 640 || md.Height != 360 {
		t.Errorf("size = %dx%d", md.Width, md.Height)
	}
	f, err := d.GetFrameAt(2_000_000, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || f.PTS != 2_000_000 || !f.IsKeyframe {
		t.Fatalf("got %+v, want keyframe at 2s", f)
	}
	if f, _ := d.GetFrameAt(2_040_000, 10_000); f == nil || f.FrameNumber != 51 {
		t.Errorf("next frame = %+v", f)
	}
}

func writeTS(t *testing.T, o tsengine.GenerateOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ts")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if _, err := tsengine.Generate(out, o); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrefetchSharesTransportStreamIndex(t *testing.T) {
	t.Parallel()
	path := writeTS(t, tsengine.GenerateOptions{
		FrameRate: 30, Duration: 20 * time.Second, GOP: 30, Width: 320, Height: 240,
	})
	var opens atomic.Int32
	open := func(path string, cfg engine.Config) (engine.Engine, error) {
		opens.Add(1)
		return DefaultOpener(path, cfg)
	}
	d := prepared(t, path, DefaultConfig(), WithOpener(open),
		WithPrefetchOptions(prefetch.WithThrottle(0, 0, 0), prefetch.WithThreads(4)))

	if err := d.Seek(5_000_000); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPrefetch(1, 2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "L3 fill", func() bool { return d.Cache().Len(cache.L3) >= 20 })
	if n := opens.Load(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}

	// Restart repeatedly; each generation must come up and go down without
	// rescanning the file.
	start := time.Now()
	for range 5 {
		if err := d.StartPrefetch(-1, 2); err != nil {
			t.Fatal(err)
		}
		d.StopPrefetch()
	}
	if el := time.Since(start); el > time.Second {
		t.Errorf("five start/stop cycles took %v", el)
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
}

func TestTransportStreamAudio(t *testing.T) {
	t.Parallel()
	path := writeTS(t, tsengine.GenerateOptions{
		FrameRate: 30, Duration: 3 * time.Second, GOP: 30, Width: 320, Height: 240,
		AudioSampleRate: 48000, AudioChannels: 2,
	})
	d := prepared(t, path, DefaultConfig())
	if !d.HasAudio() || d.AudioSampleRate() != 48000 || d.AudioChannels() != 2 {
		t.Fatalf("audio = %v %d %d", d.HasAudio(), d.AudioSampleRate(), d.AudioChannels())
	}

	if err := d.Seek(1_000_000); err != nil {
		t.Fatal(err)
	}
	n, err := d.PrimeAudioAfterSeek()
	if err != nil || n == 0 {
		t.Fatalf("prime = %d, %v", n, err)
	}
	f, err := d.GetNextAudioFrame()
	if err != nil || f == nil {
		t.Fatalf("GetNextAudioFrame: %v, %v", f, err)
	}
	if f.PTS > 1_000_000 || f.PTS+f.Duration <= 1_000_000 {
		t.Errorf("frame [%d, %d) does not cover 1s", f.PTS, f.PTS+f.Duration)
	}

	var count int
	for {
		f, err := d.GetNextAudioFrame()
		if err != nil {
			t.Fatal(err)
		}
		if f == nil {
			break
		}
		count++
	}
	if count == 0 {
		t.Error("no audio frames after the primed one")
	}
}

func TestAudioAbsentOnSynthetic(t *testing.T) {
	t.Parallel()
	d := prepared(t, clip, DefaultConfig())
	if d.HasAudio() || d.AudioSampleRate() != 0 || d.AudioChannels() != 0 {
		t.Error("synthetic source reports audio")
	}
	if n, err := d.PrimeAudioAfterSeek(); n != 0 || err != nil {
		t.Errorf("prime = %d, %v", n, err)
	}
	if f, err := d.GetNextAudioFrame(); f != nil || err != nil {
		t.Errorf("GetNextAudioFrame = %v, %v", f, err)
	}
}
