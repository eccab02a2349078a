// Package engine defines the boundary between the scrubbing core and the
// decoders that actually read media. The core never shares an Engine between
// goroutines: the foreground decoder and every prefetch worker open their
// own instance through an Opener.
package engine

import (
	"github.com/zsiec/scrub/internal/media"
)

// Engine is a single-owner handle on an opened source. Implementations need
// not be safe for concurrent use.
type Engine interface {
	// Seek positions the engine on the keyframe at or before us so that the
	// following DecodeNextFrame calls walk forward from there.
	Seek(us int64) error

	// DecodeNextFrame returns the next frame in decode order, which is
	// presentation order unless the stream carries B-frames. It returns
	// io.EOF at the end of the stream.
	DecodeNextFrame() (*media.VideoFrame, error)

	// Metadata returns the stream properties used for prefetch planning.
	Metadata() media.StreamMetadata

	// Info describes the opened source.
	Info() media.MediaInfo

	Close() error
}

// Config carries decoder preferences through to the engine.
type Config struct {
	PreferHardware bool
	ThreadCount    int
	PixelFormat    media.PixelFormat
}

// Opener opens path with cfg. Errors wrap ErrNotFound, ErrInvalidFormat or
// ErrCodecUnsupported.
type Opener func(path string, cfg Config) (Engine, error)

// Forker is implemented by engines whose open cost is dominated by state
// that can be shared read-only, such as a file index. Fork returns an
// independent engine over the same source without rebuilding that state.
// Fork may be called while another goroutine uses the engine.
type Forker interface {
	Fork() (Engine, error)
}

// AudioSource is implemented by engines that deliver an audio stream
// alongside video. Audio has its own read position.
type AudioSource interface {
	// SeekAudio positions audio on the frame covering us and returns the
	// number of frames buffered for immediate reading.
	SeekAudio(us int64) (int, error)

	// DecodeNextAudioFrame returns the next audio frame, or io.EOF.
	DecodeNextAudioFrame() (*media.AudioFrame, error)
}
