package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F)
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func TestParsePacketNormal(t *testing.T) {
	t.Parallel()
	h, payload, err := parsePacket(makePacket(0x100, 5, true, []byte{1, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}
	if h.PID != 0x100 {
		t.Errorf("PID = %d, want %d", h.PID, 0x100)
	}
	if h.ContinuityCounter != 5 {
		t.Errorf("CC = %d, want 5", h.ContinuityCounter)
	}
	if !h.PayloadUnitStart {
		t.Error("expected payload_unit_start")
	}
	if len(payload) != PacketSize-4 || payload[0] != 1 {
		t.Errorf("payload len %d first %d", len(payload), payload[0])
	}
}

func TestParsePacketBadSync(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x100, 0, false, nil)
	buf[0] = 0x48
	if _, _, err := parsePacket(buf); !errors.Is(err, ErrSync) {
		t.Errorf("got %v, want ErrSync", err)
	}
}

func TestParsePacketAdaptationOnly(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x100, 0, false, nil)
	buf[3] = 0x20
	buf[4] = 183
	_, payload, err := parsePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if payload != nil {
		t.Errorf("got %d payload bytes, want none", len(payload))
	}
}

func TestPacketizeStuffing(t *testing.T) {
	t.Parallel()
	// 183 bytes leaves a single stuffing byte: adaptation_field_length 0.
	for _, n := range []int{1, 183, 184, 185, 500} {
		data := bytes.Repeat([]byte{0xAB}, n)
		var cc byte
		out := packetize(nil, data, 0x100, &cc)
		if len(out)%PacketSize != 0 {
			t.Fatalf("n=%d: output not packet aligned", n)
		}

		var got []byte
		for off := 0; off < len(out); off += PacketSize {
			h, payload, err := parsePacket(out[off : off+PacketSize])
			if err != nil {
				t.Fatalf("n=%d: %v", n, err)
			}
			if h.PayloadUnitStart != (off == 0) {
				t.Errorf("n=%d off=%d: PUSI = %v", n, off, h.PayloadUnitStart)
			}
			if int(h.ContinuityCounter) != off/PacketSize {
				t.Errorf("n=%d: CC = %d, want %d", n, h.ContinuityCounter, off/PacketSize)
			}
			got = append(got, payload...)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("n=%d: reassembled %d bytes, want %d", n, len(got), n)
		}
	}
}

func TestTimestampEncoding(t *testing.T) {
	t.Parallel()
	for _, ts := range []int64{0, 1, 90000, 1<<32 + 12345, 1<<33 - 1} {
		b := encodeTimestamp(nil, 0x2, ts)
		if got := decodeTimestamp(b); got != ts {
			t.Errorf("got %d, want %d", got, ts)
		}
	}
}

func TestParsePESWithDTS(t *testing.T) {
	t.Parallel()
	b := append(videoPESHeader(9000, 6000), 0xDE, 0xAD)
	p, err := parsePES(b)
	if err != nil {
		t.Fatal(err)
	}
	if !p.hasPTS || p.pts != 9000 || p.dts != 6000 {
		t.Errorf("pts %d dts %d", p.pts, p.dts)
	}
	if !bytes.Equal(p.data, []byte{0xDE, 0xAD}) {
		t.Errorf("data = %x", p.data)
	}
}

func TestPSIRoundTripAndCRC(t *testing.T) {
	t.Parallel()
	var cc byte
	pat := psiPacket(nil, pidPAT, buildPAT(0x1234), &cc)
	_, payload, _ := parsePacket(pat)
	pid, err := parsePAT(payload)
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0x1234 {
		t.Errorf("PMT PID = 0x%X, want 0x1234", pid)
	}

	pmt := psiPacket(nil, 0x1234, buildPMT(0x100, esInfo{0x101, StreamTypeH264}, esInfo{0x102, StreamTypeAAC}), &cc)
	_, payload, _ = parsePacket(pmt)
	vpid, st, err := parsePMT(payload, isVideo)
	if err != nil {
		t.Fatal(err)
	}
	if vpid != 0x101 || st != StreamTypeH264 {
		t.Errorf("got pid 0x%X type 0x%X", vpid, st)
	}
	apid, st, err := parsePMT(payload, isAudio)
	if err != nil || apid != 0x102 || st != StreamTypeAAC {
		t.Errorf("audio: got pid 0x%X type 0x%X (%v)", apid, st, err)
	}

	payload[10] ^= 0xFF
	if _, _, err := parsePMT(payload, isVideo); !errors.Is(err, errCRC) {
		t.Errorf("corrupted PMT: got %v, want CRC error", err)
	}
}
