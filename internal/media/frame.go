// Package media defines the frame and stream description types shared by the
// decode engines, the frame cache, and the prefetch workers.
package media

import (
	"fmt"
	"strings"
)

// PixelFormat identifies the layout of a VideoFrame's Data buffer.
type PixelFormat uint8

const (
	PixelFormatBGRA PixelFormat = iota
	PixelFormatNV12
	PixelFormatYUV420P
	// PixelFormatAnnexB marks an encoded H.264/H.265 access unit in Annex B
	// form. Engines that leave picture reconstruction to the host emit it.
	PixelFormatAnnexB
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatAnnexB:
		return "annexb"
	default:
		return "unknown"
	}
}

// ParsePixelFormat is the inverse of String. Matching ignores case.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, p := range []PixelFormat{PixelFormatBGRA, PixelFormatNV12, PixelFormatYUV420P, PixelFormatAnnexB} {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("media: unknown pixel format %q", s)
}

// ExpectedSize returns the buffer size of a raw picture in format p, or 0
// for formats without a fixed size.
func (p PixelFormat) ExpectedSize(width, height int) int {
	switch p {
	case PixelFormatBGRA:
		return width * height * 4
	case PixelFormatNV12, PixelFormatYUV420P:
		return width * height * 3 / 2
	default:
		return 0
	}
}

// VideoFrame is one decoded picture. Data is owned by the frame and must not
// be modified once the frame has been handed to a cache; copies made with
// Clone share it.
type VideoFrame struct {
	Data        []byte
	Width       int
	Height      int
	Stride      int
	PTS         int64 // microseconds
	Duration    int64 // microseconds
	IsKeyframe  bool
	FrameNumber int64
	PixelFormat PixelFormat
	Captions    []string
}

// Size returns the byte size of the frame buffer.
func (f *VideoFrame) Size() int {
	return len(f.Data)
}

// Clone returns a copy of the frame record. The pixel buffer is shared.
func (f *VideoFrame) Clone() *VideoFrame {
	c := *f
	return &c
}

// Covers reports whether t falls inside the frame's display interval.
func (f *VideoFrame) Covers(t int64) bool {
	if f.Duration <= 0 {
		return t == f.PTS
	}
	return t >= f.PTS && t < f.PTS+f.Duration
}

// SampleFormat identifies the layout of an AudioFrame's Data buffer.
type SampleFormat uint8

const (
	SampleFormatFloat32 SampleFormat = iota // interleaved PCM
	SampleFormatInt16
	SampleFormatInt32
	// SampleFormatADTS marks encoded AAC frames with ADTS headers, left for
	// the host to decode.
	SampleFormatADTS
)

func (s SampleFormat) String() string {
	switch s {
	case SampleFormatFloat32:
		return "f32"
	case SampleFormatInt16:
		return "s16"
	case SampleFormatInt32:
		return "s32"
	case SampleFormatADTS:
		return "adts"
	default:
		return "unknown"
	}
}

// AudioFrame is one block of audio. PCM formats are interleaved
// ([L0, R0, L1, R1, ...] for stereo).
type AudioFrame struct {
	Data        []byte
	Format      SampleFormat
	SampleCount int // samples per channel
	Channels    int
	SampleRate  int
	PTS         int64
	Duration    int64
	FrameNumber int64
}

// Size returns the byte size of the sample buffer.
func (f *AudioFrame) Size() int {
	return len(f.Data)
}
