package mpegts

import (
	"errors"
	"fmt"
	"io"
)

// Streams selects the elementary streams a Reader returns or a Muxer writes.
type Streams uint8

const (
	Video Streams = 1 << iota
	Audio
)

// Unit is one PES payload: a video access unit or a run of ADTS frames.
type Unit struct {
	Audio  bool
	PTS    int64 // 90 kHz
	DTS    int64 // 90 kHz
	Data   []byte
	Offset int64 // byte offset of the packet that started the PES
}

// assembler collects the payloads of one PID into PES packets.
type assembler struct {
	pending []byte
	off     int64
	active  bool
}

func (a *assembler) start(payload []byte, off int64) *Unit {
	u := a.flush()
	a.pending = append(a.pending[:0], payload...)
	a.off = off
	a.active = true
	return u
}

func (a *assembler) flush() *Unit {
	if !a.active {
		return nil
	}
	a.active = false
	p, err := parsePES(a.pending)
	if err != nil || !p.hasPTS {
		return nil
	}
	return &Unit{
		PTS:    p.pts,
		DTS:    p.dts,
		Data:   append([]byte(nil), p.data...),
		Offset: a.off,
	}
}

// Reader pulls PES payloads of the selected streams out of a transport
// stream. Program tables are learned from the first PAT and PMT seen and
// survive SeekTo, so a reader positioned mid-stream keeps decoding.
type Reader struct {
	r    io.ReadSeeker
	want Streams
	buf  [PacketSize]byte
	pos  int64

	pmtPID  uint16
	havePMT bool

	videoPID   uint16
	streamType byte
	haveVideo  bool
	audioPID   uint16
	audioType  byte
	haveAudio  bool

	video, audio assembler
}

// NewReader returns a Reader positioned at the current offset of r that
// returns units of the streams in want.
func NewReader(r io.ReadSeeker, want Streams) (*Reader, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, want: want, pos: pos}, nil
}

// VideoPID returns the video PID and whether the PMT has been seen.
func (r *Reader) VideoPID() (uint16, bool) { return r.videoPID, r.haveVideo }

// StreamType returns the PMT stream_type of the selected video stream.
func (r *Reader) StreamType() byte { return r.streamType }

// AudioPID returns the AAC PID and whether the PMT lists one.
func (r *Reader) AudioPID() (uint16, bool) { return r.audioPID, r.haveAudio }

// Program is the set of PIDs learned from the PAT and PMT.
type Program struct {
	PMTPID     uint16
	VideoPID   uint16
	StreamType byte
	AudioPID   uint16
	HasAudio   bool
}

// Program returns the program tables seen so far and whether a video
// stream has been found.
func (r *Reader) Program() (Program, bool) {
	return Program{
		PMTPID:     r.pmtPID,
		VideoPID:   r.videoPID,
		StreamType: r.streamType,
		AudioPID:   r.audioPID,
		HasAudio:   r.haveAudio,
	}, r.haveVideo
}

// SetProgram installs program tables learned by another reader, so that a
// reader can start at an offset past the PMT.
func (r *Reader) SetProgram(p Program) {
	r.pmtPID, r.havePMT = p.PMTPID, true
	r.videoPID, r.streamType, r.haveVideo = p.VideoPID, p.StreamType, true
	r.audioPID, r.audioType, r.haveAudio = p.AudioPID, StreamTypeAAC, p.HasAudio
}

// Next returns the next unit carrying a PTS. It returns io.EOF once the
// stream is exhausted and any partial units have been flushed.
func (r *Reader) Next() (*Unit, error) {
	for {
		_, err := io.ReadFull(r.r, r.buf[:])
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if u := r.video.flush(); u != nil {
				return u, nil
			}
			if u := r.audio.flush(); u != nil {
				u.Audio = true
				return u, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		off := r.pos
		r.pos += PacketSize

		h, payload, err := parsePacket(r.buf[:])
		if err != nil {
			return nil, fmt.Errorf("at offset %d: %w", off, err)
		}
		if payload == nil {
			continue
		}

		switch {
		case h.PID == pidPAT && h.PayloadUnitStart:
			if pid, err := parsePAT(payload); err == nil {
				r.pmtPID, r.havePMT = pid, true
			}
		case r.havePMT && h.PID == r.pmtPID && h.PayloadUnitStart:
			if pid, st, err := parsePMT(payload, isVideo); err == nil {
				r.videoPID, r.streamType, r.haveVideo = pid, st, true
			}
			if pid, st, err := parsePMT(payload, isAudio); err == nil {
				r.audioPID, r.audioType, r.haveAudio = pid, st, true
			}
		case r.want&Video != 0 && r.haveVideo && h.PID == r.videoPID:
			if h.PayloadUnitStart {
				if u := r.video.start(payload, off); u != nil {
					return u, nil
				}
			} else if r.video.active {
				r.video.pending = append(r.video.pending, payload...)
			}
		case r.want&Audio != 0 && r.haveAudio && h.PID == r.audioPID:
			if h.PayloadUnitStart {
				if u := r.audio.start(payload, off); u != nil {
					u.Audio = true
					return u, nil
				}
			} else if r.audio.active {
				r.audio.pending = append(r.audio.pending, payload...)
			}
		}
	}
}

// SeekTo repositions the reader at a packet boundary previously reported in
// Unit.Offset. Partially assembled units are discarded.
func (r *Reader) SeekTo(offset int64) error {
	if offset%PacketSize != 0 {
		return fmt.Errorf("mpegts: offset %d is not packet aligned", offset)
	}
	if _, err := r.r.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r.pos = offset
	r.video = assembler{pending: r.video.pending[:0]}
	r.audio = assembler{pending: r.audio.pending[:0]}
	return nil
}

func isVideo(st byte) bool {
	switch st {
	case 0x01, 0x02, 0x10, StreamTypeH264, 0x24:
		return true
	}
	return false
}

// isAudio matches the only audio carriage the engines decode: AAC in ADTS.
func isAudio(st byte) bool { return st == StreamTypeAAC }
