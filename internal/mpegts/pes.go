package mpegts

import "errors"

// pes is one parsed PES packet. Timestamps are 90 kHz; DTS equals PTS when
// the header carries only a PTS.
type pes struct {
	streamID byte
	pts, dts int64
	hasPTS   bool
	data     []byte
}

func parsePES(b []byte) (pes, error) {
	if len(b) < 9 || b[0] != 0 || b[1] != 0 || b[2] != 1 {
		return pes{}, errors.New("mpegts: invalid PES start code")
	}
	p := pes{streamID: b[3]}
	start := 9 + int(b[8])
	if start > len(b) {
		return pes{}, errors.New("mpegts: PES header truncated")
	}

	switch b[7] >> 6 {
	case 2:
		if len(b) >= 14 {
			p.pts, p.hasPTS = decodeTimestamp(b[9:14]), true
			p.dts = p.pts
		}
	case 3:
		if len(b) >= 19 {
			p.pts, p.hasPTS = decodeTimestamp(b[9:14]), true
			p.dts = decodeTimestamp(b[14:19])
		}
	}

	end := len(b)
	if n := int(b[4])<<8 | int(b[5]); n > 0 && 6+n < end {
		end = 6 + n
	}
	if start <= end {
		p.data = b[start:end]
	}
	return p, nil
}

// decodeTimestamp extracts a 33-bit timestamp from five PES header bytes.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}

func encodeTimestamp(dst []byte, prefix byte, ts int64) []byte {
	return append(dst,
		prefix<<4|byte(ts>>29)&0x0E|1,
		byte(ts>>22),
		byte(ts>>14)&0xFE|1,
		byte(ts>>7),
		byte(ts<<1)&0xFE|1,
	)
}

// videoPESHeader builds an unbounded-length video PES header. DTS is written
// only when it differs from PTS.
func videoPESHeader(pts, dts int64) []byte {
	h := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80}
	if dts == pts {
		h = append(h, 0x80, 5)
		return encodeTimestamp(h, 0x2, pts)
	}
	h = append(h, 0xC0, 10)
	h = encodeTimestamp(h, 0x3, pts)
	return encodeTimestamp(h, 0x1, dts)
}

// audioPESHeader builds a bounded audio PES header carrying a PTS for a
// payload of n bytes.
func audioPESHeader(pts int64, n int) []byte {
	length := 8 + n
	if length > 0xFFFF {
		length = 0
	}
	h := []byte{0x00, 0x00, 0x01, 0xC0, byte(length >> 8), byte(length), 0x80, 0x80, 5}
	return encodeTimestamp(h, 0x2, pts)
}
