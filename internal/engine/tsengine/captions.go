package tsengine

import (
	"github.com/zsiec/ccx"

	"github.com/zsiec/scrub/internal/h264"
)

// captionTracker turns caption SEI messages into the text that became
// visible on each frame. Broadcasters send 608 control codes twice; the
// repeat is dropped when it arrives within two frames of the first.
type captionTracker struct {
	decs      map[int]*ccx.CEA608Decoder
	frame     int64
	lastCtrl  [2][2]byte
	wasCtrl   [2]bool
	ctrlFrame [2]int64
}

func newCaptionTracker() *captionTracker {
	return &captionTracker{decs: make(map[int]*ccx.CEA608Decoder)}
}

// reset forgets decoder state; called on seek since the caption stream is
// discontinuous afterwards.
func (c *captionTracker) reset() {
	*c = captionTracker{decs: make(map[int]*ccx.CEA608Decoder)}
}

func (c *captionTracker) feed(nals []h264.NALUnit) []string {
	c.frame++
	var out []string
	for _, nal := range nals {
		if nal.Type != h264.NALTypeSEI {
			continue
		}
		cd := ccx.ExtractCaptions(nal.Data)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			cc1, cc2 := pair.Data[0], pair.Data[1]
			f := pair.Field & 1
			if cc1 >= 0x10 && cc1 <= 0x1F {
				cp := [2]byte{cc1, cc2}
				if c.wasCtrl[f] && c.lastCtrl[f] == cp && c.frame-c.ctrlFrame[f] <= 2 {
					c.wasCtrl[f] = false
					continue
				}
				c.lastCtrl[f], c.wasCtrl[f], c.ctrlFrame[f] = cp, true, c.frame
			} else {
				c.wasCtrl[f] = false
			}

			dec := c.decs[pair.Channel]
			if dec == nil {
				dec = ccx.NewCEA608Decoder()
				c.decs[pair.Channel] = dec
			}
			if text := dec.Decode(cc1, cc2); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}
