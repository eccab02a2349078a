// Package aac splits and builds ADTS-framed AAC audio.
package aac

import (
	"errors"
	"fmt"
)

// SamplesPerFrame is the PCM sample count per channel of one AAC-LC frame.
const SamplesPerFrame = 1024

// ErrInvalidADTS is returned when an ADTS header is malformed.
var ErrInvalidADTS = errors.New("aac: invalid ADTS header")

// sample rate index table (ISO 14496-3)
var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Frame is one ADTS frame.
type Frame struct {
	Data       []byte // header and payload
	SampleRate int
	Channels   int
}

// Duration returns the frame duration in microseconds.
func (f Frame) Duration() int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return SamplesPerFrame * 1_000_000 / int64(f.SampleRate)
}

// ParseADTS splits data into ADTS frames. Bytes before a sync word are
// skipped; a truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]Frame, error) {
	var frames []Frame
	off := 0
	for len(data)-off >= 7 {
		if data[off] != 0xFF || data[off+1]&0xF0 != 0xF0 {
			off++
			continue
		}
		headerSize := 7
		if data[off+1]&0x01 == 0 {
			headerSize = 9 // CRC present
		}

		idx := data[off+2] >> 2 & 0x0F
		if int(idx) >= len(sampleRates) {
			return frames, ErrInvalidADTS
		}
		channels := int(data[off+2]&0x01)<<2 | int(data[off+3]>>6&0x03)
		frameLen := int(data[off+3]&0x03)<<11 | int(data[off+4])<<3 | int(data[off+5]>>5)
		if frameLen < headerSize || off+frameLen > len(data) {
			break
		}

		frames = append(frames, Frame{
			Data:       data[off : off+frameLen],
			SampleRate: sampleRates[idx],
			Channels:   channels,
		})
		off += frameLen
	}
	return frames, nil
}

// BuildADTS prepends an AAC-LC ADTS header without CRC to payload.
func BuildADTS(sampleRate, channels int, payload []byte) ([]byte, error) {
	idx := -1
	for i, r := range sampleRates {
		if r == sampleRate {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("aac: unsupported sample rate %d", sampleRate)
	}
	if channels < 1 || channels > 7 {
		return nil, fmt.Errorf("aac: unsupported channel count %d", channels)
	}
	n := 7 + len(payload)
	if n > 0x1FFF {
		return nil, fmt.Errorf("aac: frame of %d bytes too long", n)
	}
	const profileLC = 1 // audio object type 2, minus one
	h := []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, no CRC
		profileLC<<6 | byte(idx)<<2 | byte(channels>>2),
		byte(channels&0x03)<<6 | byte(n>>11),
		byte(n >> 3),
		byte(n&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(h, payload...), nil
}
