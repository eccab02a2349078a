package h264

import (
	"bytes"
	"testing"
)

func TestParseAnnexBMixedStartCodes(t *testing.T) {
	t.Parallel()
	data := []byte{
		0, 0, 0, 1, 0x67, 0xAA,
		0, 0, 1, 0x68, 0xBB,
		0, 0, 0, 1, 0x65, 0x01, 0x02,
	}
	units := ParseAnnexB(data)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	wantTypes := []byte{NALTypeSPS, NALTypePPS, NALTypeIDR}
	for i, u := range units {
		if u.Type != wantTypes[i] {
			t.Errorf("unit %d: type %d, want %d", i, u.Type, wantTypes[i])
		}
	}
	if !bytes.Equal(units[2].Data, []byte{0x65, 0x01, 0x02}) {
		t.Errorf("last unit data = %x", units[2].Data)
	}
	if !ContainsKeyframe(units) {
		t.Error("expected IDR to be detected")
	}
}

func TestParseAnnexBTooShort(t *testing.T) {
	t.Parallel()
	if units := ParseAnnexB([]byte{0, 0, 1}); units != nil {
		t.Errorf("got %d units, want none", len(units))
	}
}

func TestEmulationPrevention(t *testing.T) {
	t.Parallel()
	raw := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xFF}
	escaped := AddEmulationPrevention(raw)
	if bytes.Contains(escaped, []byte{0, 0, 1}) {
		t.Fatalf("escaped data still contains a start code: %x", escaped)
	}
	if got := RemoveEmulationPrevention(escaped); !bytes.Equal(got, raw) {
		t.Errorf("got %x, want %x", got, raw)
	}
}

func TestBuildSPSParses(t *testing.T) {
	t.Parallel()
	sizes := [][2]int{{1920, 1080}, {1280, 720}, {640, 360}, {176, 144}, {16, 16}}
	for _, sz := range sizes {
		info, err := ParseSPS(BuildSPS(sz[0], sz[1]))
		if err != nil {
			t.Fatalf("%dx%d: %v", sz[0], sz[1], err)
		}
		if info.Width != sz[0] || info.Height != sz[1] {
			t.Errorf("got %dx%d, want %dx%d", info.Width, info.Height, sz[0], sz[1])
		}
		if info.ProfileIDC != 66 {
			t.Errorf("profile = %d, want 66", info.ProfileIDC)
		}
	}
}

func TestParseSPSHighProfile(t *testing.T) {
	t.Parallel()
	w := &bitWriter{}
	w.bits(100, 8) // high
	w.bits(0, 8)
	w.bits(40, 8)
	w.ue(0)  // sps id
	w.ue(1)  // chroma_format_idc 4:2:0
	w.ue(0)  // bit depth luma
	w.ue(0)  // bit depth chroma
	w.bit(0) // transform bypass
	w.bit(0) // no scaling matrix
	w.ue(0)  // log2_max_frame_num
	w.ue(0)  // poc type 0
	w.ue(0)  // log2_max_poc_lsb
	w.ue(4)  // max refs
	w.bit(0)
	w.ue(119) // 1920/16 - 1
	w.ue(67)  // 1088/16 - 1
	w.bit(1)
	w.bit(1)
	w.bit(1) // cropping
	w.ue(0)
	w.ue(0)
	w.ue(0)
	w.ue(4) // 8 lines off the bottom
	w.bit(0)
	nal := append([]byte{0x67}, AddEmulationPrevention(w.trailing())...)

	info, err := ParseSPS(nal)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("got %dx%d, want 1920x1080", info.Width, info.Height)
	}
	if got := info.CodecString(); got != "avc1.640028" {
		t.Errorf("codec = %q, want avc1.640028", got)
	}
}

func TestParseSPSTruncated(t *testing.T) {
	t.Parallel()
	sps := BuildSPS(1280, 720)
	if _, err := ParseSPS(sps[:5]); err == nil {
		t.Error("expected error for truncated SPS")
	}
}

func TestAccessUnitBuild(t *testing.T) {
	t.Parallel()
	key := AccessUnit{Width: 320, Height: 240, Keyframe: true, FrameNumber: 42, PayloadSize: 600}.Build()
	units := ParseAnnexB(key)
	var types []byte
	for _, u := range units {
		types = append(types, u.Type)
	}
	want := []byte{NALTypeAUD, NALTypeSPS, NALTypePPS, NALTypeIDR}
	if !bytes.Equal(types, want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	if n := SliceFrameNumber(units[3].Data); n != 42 {
		t.Errorf("frame number = %d, want 42", n)
	}

	delta := AccessUnit{Width: 320, Height: 240, FrameNumber: 7, Captions: []CCPair{{'H', 'I'}}}.Build()
	units = ParseAnnexB(delta)
	if len(units) != 3 || units[1].Type != NALTypeSEI || units[2].Type != NALTypeSlice {
		t.Fatalf("unexpected delta layout: %d units", len(units))
	}
	if ContainsKeyframe(units) {
		t.Error("delta access unit reported as keyframe")
	}
	if n := SliceFrameNumber(units[2].Data); n != 7 {
		t.Errorf("frame number = %d, want 7", n)
	}
	if n := SliceFrameNumber(units[0].Data); n != -1 {
		t.Errorf("AUD frame number = %d, want -1", n)
	}
}

func TestBuildCaptionSEILayout(t *testing.T) {
	t.Parallel()
	nal := BuildCaptionSEI([]CCPair{{0x14, 0x25}, {'A', 'B'}})
	body := RemoveEmulationPrevention(nal[1:])
	if body[0] != seiUserDataRegistered {
		t.Fatalf("payload type = %d", body[0])
	}
	p := body[2 : 2+int(body[1])]
	if !bytes.Equal(p[:7], []byte{0xB5, 0x00, 0x31, 'G', 'A', '9', '4'}) {
		t.Fatalf("bad T.35 header %x", p[:7])
	}
	if p[8]&0x1F != 2 {
		t.Errorf("cc_count = %d, want 2", p[8]&0x1F)
	}
	// 'A' (0x41) has two bits set so gains the parity bit; 'B' (0x42) too.
	if p[13] != 0xFC || p[14] != 0xC1 || p[15] != 0xC2 {
		t.Errorf("triplet = %x", p[13:16])
	}
	if body[len(body)-1] != 0x80 {
		t.Error("missing RBSP trailing bits")
	}
}

func TestRollUpPairsTruncatesAndPads(t *testing.T) {
	t.Parallel()
	pairs := RollUpPairs("abc")
	// 6 controls, 2 text pairs, 2 CR.
	if len(pairs) != 10 {
		t.Fatalf("got %d pairs, want 10", len(pairs))
	}
	if pairs[7] != (CCPair{'c', 0x80}) {
		t.Errorf("odd tail = %x", pairs[7])
	}
	long := RollUpPairs(string(bytes.Repeat([]byte{'x'}, 100)))
	if len(long) != 6+16+2 {
		t.Errorf("got %d pairs, want 24", len(long))
	}
}
