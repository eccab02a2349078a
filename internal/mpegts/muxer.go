package mpegts

import "io"

// Default PIDs used by Muxer.
const (
	PMTPID   = 0x1000
	VideoPID = 0x0100
	AudioPID = 0x0101
)

// Muxer writes a single-program transport stream carrying one H.264 video
// stream and, optionally, one AAC stream. PAT and PMT are repeated ahead of
// every keyframe so that any keyframe offset is a valid entry point.
type Muxer struct {
	w       io.Writer
	streams []esInfo
	patCC   byte
	pmtCC   byte
	vidCC   byte
	audCC   byte
	buf     []byte
}

// NewMuxer returns a Muxer writing to w. Video is always declared; Audio in
// streams adds an AAC entry to the PMT.
func NewMuxer(w io.Writer, streams Streams) *Muxer {
	m := &Muxer{w: w, streams: []esInfo{{VideoPID, StreamTypeH264}}}
	if streams&Audio != 0 {
		m.streams = append(m.streams, esInfo{AudioPID, StreamTypeAAC})
	}
	return m
}

// WriteVideo writes one access unit. Timestamps are 90 kHz.
func (m *Muxer) WriteVideo(pts, dts int64, keyframe bool, au []byte) error {
	m.buf = m.buf[:0]
	if keyframe {
		m.buf = psiPacket(m.buf, pidPAT, buildPAT(PMTPID), &m.patCC)
		m.buf = psiPacket(m.buf, PMTPID, buildPMT(VideoPID, m.streams...), &m.pmtCC)
	}
	data := append(videoPESHeader(pts, dts), au...)
	m.buf = packetize(m.buf, data, VideoPID, &m.vidCC)
	_, err := m.w.Write(m.buf)
	return err
}

// WriteAudio writes one PES of ADTS frames starting at pts (90 kHz).
func (m *Muxer) WriteAudio(pts int64, adts []byte) error {
	data := append(audioPESHeader(pts, len(adts)), adts...)
	m.buf = packetize(m.buf[:0], data, AudioPID, &m.audCC)
	_, err := m.w.Write(m.buf)
	return err
}
