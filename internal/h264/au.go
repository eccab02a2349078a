package h264

import "encoding/binary"

// AccessUnit describes one synthesized coded picture.
type AccessUnit struct {
	Width, Height int
	Keyframe      bool
	FrameNumber   int64
	// Captions is sent as a caption SEI ahead of the slice when non-empty.
	Captions []CCPair
	// PayloadSize pads the slice body so that packetization spans
	// several transport packets.
	PayloadSize int
}

// Build returns the access unit in Annex B form: AUD, optional caption SEI,
// SPS and PPS on keyframes, then one slice NAL. The slice body is not a
// decodable picture; it carries the frame number for identification.
func (au AccessUnit) Build() []byte {
	out := AppendNAL(nil, []byte{NALTypeAUD, 0xF0})
	if len(au.Captions) > 0 {
		out = AppendNAL(out, BuildCaptionSEI(au.Captions))
	}
	header := byte(0x41)
	if au.Keyframe {
		out = AppendNAL(out, BuildSPS(au.Width, au.Height))
		out = AppendNAL(out, BuildPPS())
		header = 0x65
	}

	body := make([]byte, max(au.PayloadSize, 8))
	binary.BigEndian.PutUint64(body, uint64(au.FrameNumber))
	for i := 8; i < len(body); i++ {
		body[i] = byte(au.FrameNumber + int64(i))
	}
	slice := append([]byte{header}, AddEmulationPrevention(body)...)
	return AppendNAL(out, slice)
}

// SliceFrameNumber recovers the frame number written by AccessUnit.Build,
// or -1 if nal is not such a slice.
func SliceFrameNumber(nal []byte) int64 {
	t := nal[0] & 0x1F
	if t != NALTypeSlice && t != NALTypeIDR {
		return -1
	}
	body := RemoveEmulationPrevention(nal[1:])
	if len(body) < 8 {
		return -1
	}
	return int64(binary.BigEndian.Uint64(body))
}
