// Package mpegts reads and writes the subset of MPEG-2 transport streams the
// scrub engines need: one program, one H.264 video elementary stream, PES
// timestamps, and packet byte offsets for seeking.
package mpegts

import (
	"errors"
	"fmt"
)

const (
	// PacketSize is the fixed size of a transport stream packet.
	PacketSize = 188
	syncByte   = 0x47

	pidPAT = 0x0000
)

// PMT stream_type values the reader understands.
const (
	StreamTypeH264 = 0x1B
	StreamTypeAAC  = 0x0F // ADTS
)

// ErrSync is returned when a packet does not start with the sync byte.
var ErrSync = errors.New("mpegts: lost sync")

// Header holds the fields of a transport packet header that the reader uses.
type Header struct {
	PID               uint16
	PayloadUnitStart  bool
	ContinuityCounter uint8
	HasAdaptation     bool
	HasPayload        bool
}

// parsePacket returns the header and the payload slice of buf. The payload
// aliases buf.
func parsePacket(buf []byte) (Header, []byte, error) {
	if len(buf) != PacketSize {
		return Header{}, nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return Header{}, nil, fmt.Errorf("%w: byte 0x%02X", ErrSync, buf[0])
	}

	h := Header{
		PID:               uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		PayloadUnitStart:  buf[1]&0x40 != 0,
		HasAdaptation:     buf[3]&0x20 != 0,
		HasPayload:        buf[3]&0x10 != 0,
		ContinuityCounter: buf[3] & 0x0F,
	}

	offset := 4
	if h.HasAdaptation {
		offset += 1 + int(buf[4])
	}
	if !h.HasPayload || offset >= PacketSize {
		return h, nil, nil
	}
	return h, buf[offset:], nil
}

// packetize splits data into transport packets on pid. The first packet
// carries payload_unit_start; the last is padded with adaptation field
// stuffing. cc is advanced for every packet written.
func packetize(dst, data []byte, pid uint16, cc *byte) []byte {
	first := true
	for len(data) > 0 {
		var pkt [PacketSize]byte
		pkt[0] = syncByte
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		room := PacketSize - 4
		if len(data) >= room {
			copy(pkt[4:], data[:room])
			data = data[room:]
			dst = append(dst, pkt[:]...)
			continue
		}

		stuff := room - len(data)
		pkt[3] |= 0x20
		pkt[4] = byte(stuff - 1)
		if stuff > 1 {
			pkt[5] = 0 // no adaptation flags
			for i := 6; i < 4+stuff; i++ {
				pkt[i] = 0xFF
			}
		}
		copy(pkt[4+stuff:], data)
		data = nil
		dst = append(dst, pkt[:]...)
	}
	return dst
}
