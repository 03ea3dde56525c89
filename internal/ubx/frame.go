package ubx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	sync1 = 0xB5
	sync2 = 0x62

	headerLen   = 6
	checksumLen = 2
)

// ClassID names a message type: the UBX class byte in the high 8 bits and
// the message id byte in the low 8 bits.
type ClassID uint16

const (
	ClassMonVer   ClassID = 0x0A04 // MON-VER: receiver/software version
	ClassCfgNavX5 ClassID = 0x0623 // CFG-NAVX5: expert navigation settings
	ClassMgaAno   ClassID = 0x1320 // MGA-ANO: AssistNow Offline almanac/orbit
	ClassMgaIni   ClassID = 0x1340 // MGA-INI: initial position/time aiding
	ClassMgaAck   ClassID = 0x1360 // MGA-ACK: assistance message acknowledgment
)

func (c ClassID) String() string {
	return fmt.Sprintf("%02X-%02X", byte(c>>8), byte(c))
}

// ErrFraming reports truncated or malformed frame input. It is recoverable:
// Split still returns the frames decoded before the fault.
var ErrFraming = errors.New("ubx: framing error")

// checksum computes the 8-bit Fletcher checksum over b (class through body).
func checksum(b []byte) (ckA, ckB byte) {
	for _, v := range b {
		ckA += v
		ckB += ckA
	}
	return ckA, ckB
}

// Encode builds a complete frame around payload: sync bytes, class/id,
// little-endian payload length, payload, checksum.
func Encode(class ClassID, payload []byte) []byte {
	frame := make([]byte, headerLen+len(payload)+checksumLen)
	frame[0] = sync1
	frame[1] = sync2
	frame[2] = byte(class >> 8)
	frame[3] = byte(class)
	binary.LittleEndian.PutUint16(frame[4:6], uint16(len(payload)))
	copy(frame[headerLen:], payload)
	ckA, ckB := checksum(frame[2 : headerLen+len(payload)])
	frame[headerLen+len(payload)] = ckA
	frame[headerLen+len(payload)+1] = ckB
	return frame
}

// Class extracts the class id of a complete frame.
func Class(frame []byte) ClassID {
	if len(frame) < headerLen {
		return 0
	}
	return ClassID(frame[2])<<8 | ClassID(frame[3])
}

// Payload returns the body of a complete frame (shares the frame's backing
// array; callers must not mutate).
func Payload(frame []byte) []byte {
	if len(frame) < headerLen+checksumLen {
		return nil
	}
	return frame[headerLen : len(frame)-checksumLen]
}

// Split cuts buf into complete frames, trusting the length fields: 6 header
// bytes, body length from header offsets 4-5, then body plus 2 checksum
// bytes. A read running past the end of buf stops the loop and returns the
// frames read so far alongside an error wrapping ErrFraming. An empty buf
// yields no frames and no error.
//
// Each returned frame is a copy; buf may be reused by the caller.
func Split(buf []byte) ([][]byte, error) {
	var frames [][]byte
	off := 0
	for off < len(buf) {
		if off+headerLen > len(buf) {
			return frames, fmt.Errorf("%w: truncated header at offset %d", ErrFraming, off)
		}
		bodyLen := int(binary.LittleEndian.Uint16(buf[off+4 : off+6]))
		total := headerLen + bodyLen + checksumLen
		if off+total > len(buf) {
			return frames, fmt.Errorf("%w: truncated body at offset %d (need %d bytes, have %d)",
				ErrFraming, off, total, len(buf)-off)
		}
		frame := make([]byte, total)
		copy(frame, buf[off:off+total])
		frames = append(frames, frame)
		off += total
	}
	return frames, nil
}

// ScanStream searches buf for the next complete, checksum-valid frame as
// read off a byte stream. It returns the frame (a copy) and the number of
// bytes the caller may discard from the front of buf. A nil frame means more
// data is needed; the returned advance then drops leading garbage only.
func ScanStream(buf []byte) (frame []byte, advance int) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] != sync1 || buf[i+1] != sync2 {
			continue
		}
		if i+headerLen > len(buf) {
			return nil, i
		}
		bodyLen := int(binary.LittleEndian.Uint16(buf[i+4 : i+6]))
		total := headerLen + bodyLen + checksumLen
		if i+total > len(buf) {
			return nil, i
		}
		candidate := buf[i : i+total]
		ckA, ckB := checksum(candidate[2 : headerLen+bodyLen])
		if ckA != candidate[total-2] || ckB != candidate[total-1] {
			// False sync inside other data; keep scanning.
			continue
		}
		out := make([]byte, total)
		copy(out, candidate)
		return out, i + total
	}
	// No sync pair found. Keep a trailing 0xB5 in case its partner is next.
	if n := len(buf); n > 0 && buf[n-1] == sync1 {
		return nil, n - 1
	}
	return nil, len(buf)
}
