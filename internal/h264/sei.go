package h264

// SEI payload type carrying ATSC A/53 caption data.
const seiUserDataRegistered = 4

// CCPair is one CEA-608 byte pair for field 1. Parity is added on encode.
type CCPair [2]byte

// Padding is the CEA-608 null pair sent on frames without caption data.
var Padding = CCPair{0x80, 0x80}

// EncodeSEIMessage frames payload as one sei_message with 0xFF-extended
// type and size fields.
func EncodeSEIMessage(payloadType int, payload []byte) []byte {
	var out []byte
	for pt := payloadType; ; pt -= 255 {
		if pt < 255 {
			out = append(out, byte(pt))
			break
		}
		out = append(out, 0xFF)
	}
	for ps := len(payload); ; ps -= 255 {
		if ps < 255 {
			out = append(out, byte(ps))
			break
		}
		out = append(out, 0xFF)
	}
	return append(out, payload...)
}

// BuildCaptionSEI returns an SEI NAL unit (header included, no start code)
// carrying pairs as A/53 GA94 cc_data on field 1.
func BuildCaptionSEI(pairs []CCPair) []byte {
	n := min(len(pairs), 31)

	p := []byte{
		0xB5,       // itu_t_t35_country_code: United States
		0x00, 0x31, // itu_t_t35_provider_code: ATSC
		'G', 'A', '9', '4',
		0x03,           // user_data_type_code: cc_data
		0x40 | byte(n), // process_cc_data_flag, cc_count
		0xFF,           // em_data
	}
	for _, pair := range pairs[:n] {
		p = append(p, 0xFC, oddParity(pair[0]), oddParity(pair[1]))
	}
	p = append(p, 0xFF)

	msg := EncodeSEIMessage(seiUserDataRegistered, p)
	msg = append(msg, 0x80)
	return append([]byte{NALTypeSEI}, AddEmulationPrevention(msg)...)
}

func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}

// RollUpPairs encodes text as a CEA-608 roll-up 2 caption: mode, erase and
// preamble controls are doubled, then one pair of printable characters per
// entry, ending with a carriage return that commits the row.
func RollUpPairs(text string) []CCPair {
	pairs := []CCPair{
		{0x14, 0x25}, {0x14, 0x25}, // RU2
		{0x14, 0x2C}, {0x14, 0x2C}, // EDM
		{0x14, 0x60}, {0x14, 0x60}, // PAC row 14
	}
	var chars []byte
	for _, r := range text {
		if r >= 0x20 && r <= 0x7E {
			chars = append(chars, byte(r))
		} else {
			chars = append(chars, '?')
		}
		if len(chars) == 32 {
			break
		}
	}
	for i := 0; i < len(chars); i += 2 {
		if i+1 < len(chars) {
			pairs = append(pairs, CCPair{chars[i], chars[i+1]})
		} else {
			pairs = append(pairs, CCPair{chars[i], 0x80})
		}
	}
	return append(pairs, CCPair{0x14, 0x2D}, CCPair{0x14, 0x2D}) // CR
}
