package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errCRC = errors.New("mpegts: CRC32 mismatch")

// section returns the first PSI section in payload after the pointer field
// and checks its CRC.
func section(payload []byte, tableID byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, errors.New("mpegts: PSI payload too short")
	}
	off := 1 + int(payload[0])
	if off+3 > len(payload) {
		return nil, errors.New("mpegts: PSI pointer field out of range")
	}
	if payload[off] != tableID {
		return nil, fmt.Errorf("mpegts: table_id 0x%02X, expected 0x%02X", payload[off], tableID)
	}
	length := int(payload[off+1]&0x0F)<<8 | int(payload[off+2])
	end := off + 3 + length
	if length < 9 || end > len(payload) {
		return nil, errors.New("mpegts: PSI section truncated")
	}
	s := payload[off:end]
	if crc32MPEG(s) != 0 {
		return nil, errCRC
	}
	return s, nil
}

// parsePAT returns the PMT PID of the first program in the PAT.
func parsePAT(payload []byte) (uint16, error) {
	s, err := section(payload, tableIDPAT)
	if err != nil {
		return 0, fmt.Errorf("PAT: %w", err)
	}
	for i := 8; i+4 <= len(s)-4; i += 4 {
		program := uint16(s[i])<<8 | uint16(s[i+1])
		if program == 0 {
			continue // network PID
		}
		return uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3]), nil
	}
	return 0, errors.New("mpegts: PAT lists no programs")
}

// parsePMT returns the PID and stream type of the first elementary stream
// whose type satisfies want.
func parsePMT(payload []byte, want func(streamType byte) bool) (uint16, byte, error) {
	s, err := section(payload, tableIDPMT)
	if err != nil {
		return 0, 0, fmt.Errorf("PMT: %w", err)
	}
	if len(s) < 16 {
		return 0, 0, errors.New("mpegts: PMT too short")
	}
	off := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	for off+5 <= len(s)-4 {
		st := s[off]
		pid := uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2])
		if want(st) {
			return pid, st, nil
		}
		off += 5 + (int(s[off+3]&0x0F)<<8 | int(s[off+4]))
	}
	return 0, 0, errors.New("mpegts: PMT has no matching stream")
}

func buildPAT(pmtPID uint16) []byte {
	s := []byte{
		tableIDPAT, 0xB0, 13,
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		0x00, 0x01, // program_number
		0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	return appendCRC(s)
}

// esInfo is one elementary stream entry of a PMT.
type esInfo struct {
	pid        uint16
	streamType byte
}

func buildPMT(pcrPID uint16, streams ...esInfo) []byte {
	s := []byte{
		tableIDPMT, 0xB0, byte(13 + 5*len(streams)),
		0x00, 0x01, // program_number
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00, // program_info_length
	}
	for _, es := range streams {
		s = append(s, es.streamType, 0xE0|byte(es.pid>>8), byte(es.pid), 0xF0, 0x00)
	}
	return appendCRC(s)
}

// psiPacket wraps section in a single packet with a zero pointer field.
func psiPacket(dst []byte, pid uint16, sec []byte, cc *byte) []byte {
	var pkt [PacketSize]byte
	pkt[0] = syncByte
	pkt[1] = 0x40 | byte(pid>>8)&0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | *cc&0x0F
	*cc = (*cc + 1) & 0x0F
	n := copy(pkt[5:], sec)
	for i := 5 + n; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return append(dst, pkt[:]...)
}
