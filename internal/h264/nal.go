// Package h264 splits H.264 Annex B byte streams into NAL units, classifies
// them, and reads and writes the sequence parameter set fields the engines
// need (picture size, profile, level).
package h264

// NAL unit types from ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// NALUnit is one NAL unit without its start code. Data includes the NAL
// header byte.
type NALUnit struct {
	Type byte
	Data []byte
}

// ParseAnnexB splits data on 3- and 4-byte start codes.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	// starts[i] is the offset of the first start-code byte, begins[i] the
	// first NAL byte after it.
	var starts, begins []int
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				starts, begins = append(starts, i), append(begins, i+4)
				i += 4
				continue
			}
			if data[i+2] == 1 {
				starts, begins = append(starts, i), append(begins, i+3)
				i += 3
				continue
			}
		}
		i++
	}

	units := make([]NALUnit, 0, len(begins))
	for idx, b := range begins {
		end := n
		if idx+1 < len(starts) {
			end = starts[idx+1]
		}
		if b >= end {
			continue
		}
		nal := data[b:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// IsKeyframe reports whether nalType is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// ContainsKeyframe reports whether any NAL unit in the access unit is an
// IDR slice.
func ContainsKeyframe(units []NALUnit) bool {
	for _, u := range units {
		if IsKeyframe(u.Type) {
			return true
		}
	}
	return false
}

// AppendNAL appends nal to dst behind a 4-byte start code.
func AppendNAL(dst, nal []byte) []byte {
	dst = append(dst, 0, 0, 0, 1)
	return append(dst, nal...)
}

// AddEmulationPrevention inserts 0x03 wherever two zero bytes are followed
// by a byte <= 0x03, so that the payload cannot imitate a start code.
func AddEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// RemoveEmulationPrevention strips the 0x03 bytes inserted by
// AddEmulationPrevention.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
