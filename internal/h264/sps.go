package h264

import (
	"errors"
	"fmt"
)

// SPSInfo holds the sequence parameter set fields the engines use.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec string, e.g. "avc1.42E01E".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// highProfiles carry chroma format and scaling matrix fields.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS decodes the picture size and profile from an SPS NAL unit (header
// byte included, start code excluded). VUI is not read.
func ParseSPS(nal []byte) (SPSInfo, error) {
	if len(nal) < 4 {
		return SPSInfo{}, errors.New("h264: SPS too short")
	}
	r := &bitReader{data: RemoveEmulationPrevention(nal[1:])}

	profile := r.bits(8)
	constraints := r.bits(8)
	level := r.bits(8)
	r.ue() // seq_parameter_set_id

	chromaFormat := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		chromaFormat = r.ue()
		if chromaFormat == 3 {
			separatePlanes = r.bit() == 1
		}
		r.ue()  // bit_depth_luma_minus8
		r.ue()  // bit_depth_chroma_minus8
		r.bit() // qpprime_y_zero_transform_bypass_flag
		if r.bit() == 1 {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if r.bit() == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					r.skipScalingList(size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.bit()
		r.se()
		r.se()
		for n := r.ue(); n > 0 && r.err == nil; n-- {
			r.se()
		}
	}
	r.ue()  // max_num_ref_frames
	r.bit() // gaps_in_frame_num_value_allowed_flag

	widthMbs := r.ue() + 1
	heightUnits := r.ue() + 1
	frameMbsOnly := r.bit()
	if frameMbsOnly == 0 {
		r.bit() // mb_adaptive_frame_field_flag
	}
	r.bit() // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if r.bit() == 1 {
		cropL, cropR, cropT, cropB = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPSInfo{}, fmt.Errorf("h264: parse SPS: %w", r.err)
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || chromaFormat == 0 || chromaFormat == 3:
		subW, subH = 1, 1
	case chromaFormat == 2:
		subW, subH = 2, 1
	}
	cropX := subW
	cropY := subH * (2 - frameMbsOnly)

	return SPSInfo{
		Width:           int(widthMbs*16 - cropX*(cropL+cropR)),
		Height:          int(heightUnits*16*(2-frameMbsOnly) - cropY*(cropT+cropB)),
		ProfileIDC:      byte(profile),
		ConstraintFlags: byte(constraints),
		LevelIDC:        byte(level),
	}, nil
}

// BuildSPS returns a Constrained Baseline SPS NAL unit (header included)
// describing a width x height progressive 4:2:0 picture. Sizes that are not
// a multiple of 16 are expressed with frame cropping.
func BuildSPS(width, height int) []byte {
	w := &bitWriter{}
	w.bits(66, 8)   // profile_idc: baseline
	w.bits(0xC0, 8) // constraint_set0/1
	w.bits(31, 8)   // level_idc 3.1
	w.ue(0)         // seq_parameter_set_id
	w.ue(0)         // log2_max_frame_num_minus4
	w.ue(2)         // pic_order_cnt_type
	w.ue(1)         // max_num_ref_frames
	w.bit(0)        // gaps_in_frame_num_value_allowed_flag

	mbW := (width + 15) / 16
	mbH := (height + 15) / 16
	w.ue(uint(mbW - 1))
	w.ue(uint(mbH - 1))
	w.bit(1) // frame_mbs_only_flag
	w.bit(1) // direct_8x8_inference_flag

	cropR := (mbW*16 - width) / 2
	cropB := (mbH*16 - height) / 2
	if cropR > 0 || cropB > 0 {
		w.bit(1)
		w.ue(0)
		w.ue(uint(cropR))
		w.ue(0)
		w.ue(uint(cropB))
	} else {
		w.bit(0)
	}
	w.bit(0) // vui_parameters_present_flag

	rbsp := w.trailing()
	return append([]byte{0x67}, AddEmulationPrevention(rbsp)...)
}

// BuildPPS returns a minimal PPS NAL unit referencing SPS 0.
func BuildPPS() []byte {
	w := &bitWriter{}
	w.ue(0)  // pic_parameter_set_id
	w.ue(0)  // seq_parameter_set_id
	w.bit(0) // entropy_coding_mode_flag
	w.bit(0) // bottom_field_pic_order_in_frame_present_flag
	w.ue(0)  // num_slice_groups_minus1
	w.ue(0)  // num_ref_idx_l0_default_active_minus1
	w.ue(0)  // num_ref_idx_l1_default_active_minus1
	w.bit(0) // weighted_pred_flag
	w.bits(0, 2)
	w.ue(0)  // pic_init_qp_minus26
	w.ue(0)  // pic_init_qs_minus26
	w.ue(0)  // chroma_qp_index_offset
	w.bit(1) // deblocking_filter_control_present_flag
	w.bit(0) // constrained_intra_pred_flag
	w.bit(0) // redundant_pic_cnt_present_flag
	rbsp := w.trailing()
	return append([]byte{0x68}, AddEmulationPrevention(rbsp)...)
}
