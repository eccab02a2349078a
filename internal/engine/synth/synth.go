// Package synth implements a deterministic test-pattern engine. Sources are
// addressed as "synth:" URIs whose query sets the stream shape, for example
// "synth:?fps=25&duration=10s&gop=25&size=320x180".
package synth

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/media"
)

// Scheme prefixes every synthetic source path.
const Scheme = "synth:"

var errUnknownParam = errors.New("unknown parameter")

// Options describes a synthetic stream.
type Options struct {
	FrameRate float64
	Duration  time.Duration
	GOP       int
	Width     int
	Height    int

	// DecodeDelay is slept inside every DecodeNextFrame call.
	DecodeDelay time.Duration
	// FailEvery makes every FailEvery-th decoded frame fail with
	// ErrDecodeFailed. Zero disables failures.
	FailEvery int
	// Panic makes DecodeNextFrame panic.
	Panic bool
}

// DefaultOptions returns a 30 fps, 10 second, 64x36 stream with a keyframe
// every second.
func DefaultOptions() Options {
	return Options{
		FrameRate: 30,
		Duration:  10 * time.Second,
		GOP:       30,
		Width:     64,
		Height:    36,
	}
}

// Parse reads Options from a synth: URI. Unknown keys are rejected.
func Parse(uri string) (Options, error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return Options{}, fmt.Errorf("synth: %q is not a %s URI", uri, Scheme)
	}
	o := DefaultOptions()
	rest = strings.TrimPrefix(rest, "?")
	q, err := url.ParseQuery(rest)
	if err != nil {
		return Options{}, fmt.Errorf("synth: %w", err)
	}
	for key, vals := range q {
		v := vals[len(vals)-1]
		switch key {
		case "fps":
			o.FrameRate, err = strconv.ParseFloat(v, 64)
		case "duration":
			o.Duration, err = time.ParseDuration(v)
		case "gop":
			o.GOP, err = strconv.Atoi(v)
		case "size":
			_, err = fmt.Sscanf(v, "%dx%d", &o.Width, &o.Height)
		case "delay":
			o.DecodeDelay, err = time.ParseDuration(v)
		case "failevery":
			o.FailEvery, err = strconv.Atoi(v)
		case "panic":
			o.Panic, err = strconv.ParseBool(v)
		default:
			err = errUnknownParam
		}
		if err != nil {
			return Options{}, fmt.Errorf("synth: %s=%q: %w", key, v, err)
		}
	}
	return o, nil
}

// Open is an engine.Opener for synth: URIs.
func Open(path string, cfg engine.Config) (engine.Engine, error) {
	o, err := Parse(path)
	if err != nil {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "%v", err)
	}
	if o.FrameRate <= 0 || o.Duration <= 0 || o.Width <= 0 || o.Height <= 0 {
		return nil, engine.Errorf("open", path, engine.ErrInvalidFormat, "degenerate stream %+v", o)
	}
	if cfg.PixelFormat == media.PixelFormatAnnexB {
		return nil, engine.Errorf("open", path, engine.ErrCodecUnsupported, "synthetic frames are raw")
	}
	return New(path, o, cfg.PixelFormat), nil
}

// Engine produces frames computed from their index.
type Engine struct {
	path   string
	opts   Options
	format media.PixelFormat
	total  int64
	next   int64

	seeks   atomic.Int64
	decodes atomic.Int64
}

// New returns an engine for o emitting frames in format.
func New(path string, o Options, format media.PixelFormat) *Engine {
	if o.GOP <= 0 {
		o.GOP = 1
	}
	total := int64(o.Duration.Seconds() * o.FrameRate)
	return &Engine{path: path, opts: o, format: format, total: total}
}

// FrameCount returns the number of frames in the stream.
func (e *Engine) FrameCount() int64 { return e.total }

// Seeks and Decodes count calls, for tests that check decoder reuse.
func (e *Engine) Seeks() int64   { return e.seeks.Load() }
func (e *Engine) Decodes() int64 { return e.decodes.Load() }

// PTS returns the presentation time of frame n in microseconds.
func (e *Engine) PTS(n int64) int64 {
	return int64(float64(n) * 1e6 / e.opts.FrameRate)
}

func (e *Engine) frameAt(us int64) int64 {
	n := int64(float64(us) * e.opts.FrameRate / 1e6)
	// Rounding in PTS can put us a hair before frame n's timestamp.
	for n > 0 && e.PTS(n) > us {
		n--
	}
	for n+1 < e.total && e.PTS(n+1) <= us {
		n++
	}
	return min(n, e.total-1)
}

func (e *Engine) Seek(us int64) error {
	e.seeks.Add(1)
	if us < 0 {
		return engine.Errorf("seek", e.path, engine.ErrSeekFailed, "negative position %d", us)
	}
	n := e.frameAt(us)
	e.next = n - n%int64(e.opts.GOP)
	return nil
}

func (e *Engine) DecodeNextFrame() (*media.VideoFrame, error) {
	if e.opts.Panic {
		panic("synth: decode panic requested")
	}
	if e.next >= e.total {
		return nil, io.EOF
	}
	if e.opts.DecodeDelay > 0 {
		time.Sleep(e.opts.DecodeDelay)
	}
	n := e.next
	e.next++
	if c := e.decodes.Add(1); e.opts.FailEvery > 0 && c%int64(e.opts.FailEvery) == 0 {
		return nil, engine.Errorf("decode", e.path, engine.ErrDecodeFailed, "injected failure at frame %d", n)
	}

	w, h := e.opts.Width, e.opts.Height
	size := e.format.ExpectedSize(w, h)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(n + int64(i))
	}
	stride := w
	if e.format == media.PixelFormatBGRA {
		stride = w * 4
	}
	return &media.VideoFrame{
		Data:        data,
		Width:       w,
		Height:      h,
		Stride:      stride,
		PTS:         e.PTS(n),
		Duration:    e.PTS(n+1) - e.PTS(n),
		IsKeyframe:  n%int64(e.opts.GOP) == 0,
		FrameNumber: n,
		PixelFormat: e.format,
	}, nil
}

func (e *Engine) Metadata() media.StreamMetadata {
	return media.StreamMetadata{
		FrameRate:  e.opts.FrameRate,
		DurationUS: e.opts.Duration.Microseconds(),
		Width:      e.opts.Width,
		Height:     e.opts.Height,
	}
}

func (e *Engine) Info() media.MediaInfo {
	return media.MediaInfo{
		DurationUS:      e.opts.Duration.Microseconds(),
		ContainerFormat: "synthetic",
		VideoTracks: []media.VideoTrack{{
			Index:       0,
			Codec:       media.CodecInfo{Name: "rawvideo", LongName: "synthetic test pattern"},
			Width:       e.opts.Width,
			Height:      e.opts.Height,
			FrameRate:   e.opts.FrameRate,
			PixelFormat: e.format.String(),
		}},
		Metadata: map[string]string{"source": e.path},
	}
}

func (e *Engine) Close() error { return nil }
