package tsengine

import (
	"fmt"
	"io"
	"time"

	"github.com/zsiec/scrub/internal/aac"
	"github.com/zsiec/scrub/internal/h264"
	"github.com/zsiec/scrub/internal/mpegts"
)

// GenerateOptions shapes a synthetic transport stream.
type GenerateOptions struct {
	FrameRate float64
	Duration  time.Duration
	GOP       int
	Width     int
	Height    int
	// StartPTS is the 90 kHz timestamp of the first frame.
	StartPTS int64
	// Captions maps a frame number to roll-up caption text that starts on
	// that frame. Caption pairs are sent one per frame.
	Captions map[int]string
	// AudioSampleRate adds an AAC stream of silent frames when non-zero.
	AudioSampleRate int
	AudioChannels   int
}

// silentAAC is the raw payload of one silent AAC-LC frame.
var silentAAC = []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c}

// Generate writes a transport stream of placeholder H.264 access units to
// w and returns the number of frames written. Every frame's slice carries
// its frame number so that readers can verify positioning.
func Generate(w io.Writer, o GenerateOptions) (int, error) {
	if o.FrameRate <= 0 || o.Duration <= 0 || o.GOP <= 0 || o.Width <= 0 || o.Height <= 0 {
		return 0, fmt.Errorf("tsengine: invalid generate options %+v", o)
	}
	total := int(o.Duration.Seconds() * o.FrameRate)

	pending := make(map[int]h264.CCPair)
	for start, text := range o.Captions {
		for i, p := range h264.RollUpPairs(text) {
			pending[start+i] = p
		}
	}

	streams := mpegts.Video
	var adts []byte
	if o.AudioSampleRate > 0 {
		channels := o.AudioChannels
		if channels == 0 {
			channels = 2
		}
		var err error
		if adts, err = aac.BuildADTS(o.AudioSampleRate, channels, silentAAC); err != nil {
			return 0, fmt.Errorf("tsengine: %w", err)
		}
		streams |= mpegts.Audio
	}
	audioFrames := int(o.Duration.Seconds() * float64(o.AudioSampleRate) / aac.SamplesPerFrame)
	audioPTS := func(j int) int64 {
		return o.StartPTS + int64(j)*aac.SamplesPerFrame*clockRate/int64(o.AudioSampleRate)
	}
	a := 0

	m := mpegts.NewMuxer(w, streams)
	for n := range total {
		au := h264.AccessUnit{
			Width:       o.Width,
			Height:      o.Height,
			Keyframe:    n%o.GOP == 0,
			FrameNumber: int64(n),
			PayloadSize: 256,
		}
		if p, ok := pending[n]; ok {
			au.Captions = []h264.CCPair{p}
		}
		pts := o.StartPTS + int64(float64(n)*clockRate/o.FrameRate)
		for ; a < audioFrames && audioPTS(a) < pts; a++ {
			if err := m.WriteAudio(audioPTS(a), adts); err != nil {
				return n, err
			}
		}
		if err := m.WriteVideo(pts, pts, au.Keyframe, au.Build()); err != nil {
			return n, err
		}
	}
	for ; a < audioFrames; a++ {
		if err := m.WriteAudio(audioPTS(a), adts); err != nil {
			return total, err
		}
	}
	return total, nil
}
