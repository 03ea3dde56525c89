package ubx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// MonVer is the decoded MON-VER payload: a 30-byte software version string,
// a 10-byte hardware version string, then zero or more 30-byte extension
// strings. Modern firmware reports the protocol version as a
// "PROTVER=xx.yy" extension (older firmware uses "PROTVER xx.yy").
type MonVer struct {
	SWVersion  string
	HWVersion  string
	Extensions []string

	// ProtVer is the protocol version extracted from the extensions,
	// empty when the receiver did not report one.
	ProtVer string
}

const (
	monVerSWLen  = 30
	monVerHWLen  = 10
	monVerExtLen = 30
)

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ParseMonVer decodes a MON-VER payload.
func ParseMonVer(p []byte) (MonVer, error) {
	if len(p) < monVerSWLen+monVerHWLen {
		return MonVer{}, fmt.Errorf("ubx: MON-VER payload too short: %d", len(p))
	}
	v := MonVer{
		SWVersion: cString(p[:monVerSWLen]),
		HWVersion: cString(p[monVerSWLen : monVerSWLen+monVerHWLen]),
	}
	for off := monVerSWLen + monVerHWLen; off+monVerExtLen <= len(p); off += monVerExtLen {
		ext := cString(p[off : off+monVerExtLen])
		if ext == "" {
			continue
		}
		v.Extensions = append(v.Extensions, ext)
		if rest, ok := strings.CutPrefix(ext, "PROTVER="); ok {
			v.ProtVer = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(ext, "PROTVER "); ok {
			v.ProtVer = strings.TrimSpace(rest)
		}
	}
	return v, nil
}

// MGA-ACK type field values.
const (
	MgaAckNotUsed  = 0
	MgaAckAccepted = 1
)

// MGA-ACK infoCode values.
const (
	InfoAccepted        = 0
	InfoNoTime          = 1
	InfoVersionNotKnown = 2
	InfoSizeMismatch    = 3
	InfoNotStored       = 4
	InfoNotReady        = 5
	InfoTypeUnknown     = 6
)

// MgaAck is the decoded MGA-ACK-DATA0 payload.
type MgaAck struct {
	Type     byte
	Version  byte
	InfoCode byte
	// MsgID is the message id of the acknowledged assistance message.
	MsgID byte
	// MsgPayloadStart carries the first 4 payload bytes of the
	// acknowledged message, useful to tell apart same-type messages.
	MsgPayloadStart uint32
}

// Accepted reports whether the receiver used the acknowledged message.
func (a MgaAck) Accepted() bool {
	return a.Type == MgaAckAccepted && a.InfoCode == InfoAccepted
}

// ParseMgaAck decodes an 8-byte MGA-ACK-DATA0 payload.
func ParseMgaAck(p []byte) (MgaAck, error) {
	if len(p) < 8 {
		return MgaAck{}, fmt.Errorf("ubx: MGA-ACK payload too short: %d", len(p))
	}
	return MgaAck{
		Type:            p[0],
		Version:         p[1],
		InfoCode:        p[2],
		MsgID:           p[3],
		MsgPayloadStart: binary.LittleEndian.Uint32(p[4:8]),
	}, nil
}
