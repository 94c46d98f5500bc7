// Package protocol implements the proprietary GATT frame format spoken by
// the studio lights: a magic header, little-endian length, direction,
// sequence number and command id, a command-specific payload, and a
// CRC-16/XMODEM trailer.
package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrFrameTooShort is returned for inbound frames below the minimum size.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrBadMagic is returned when an inbound frame does not start with the
	// protocol magic.
	ErrBadMagic = errors.New("bad frame magic")
)

// Wire layout constants.
const (
	magic0 = 0x24
	magic1 = 0x3C

	// directionRequest marks controller-to-device frames. Responses carry a
	// different direction value; Decode does not inspect it.
	directionRequest uint16 = 0x0001

	// headerLen covers magic(2) + length(2) + direction(2) + sequence(2) +
	// command(2).
	headerLen = 10

	// minFrameLen is the smallest inbound frame Decode accepts.
	minFrameLen = 10
)

// Command is a 16-bit protocol command identifier.
type Command uint16

// Encode builds a complete wire frame for cmd with the given payload and
// per-device sequence number.
//
// The length field counts direction through payload and excludes the CRC.
// The CRC covers direction through payload (magic and length excluded) and is
// appended low byte first.
func Encode(cmd Command, payload []byte, seq uint16) []byte {
	bodyLen := 6 + len(payload)
	frame := make([]byte, 0, 4+bodyLen+2)

	frame = append(frame, magic0, magic1)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(bodyLen))
	frame = binary.LittleEndian.AppendUint16(frame, directionRequest)
	frame = binary.LittleEndian.AppendUint16(frame, seq)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(cmd))
	frame = append(frame, payload...)

	crc := crc16(frame[4:])
	frame = binary.LittleEndian.AppendUint16(frame, crc)
	return frame
}

// Decode extracts the command id and payload from an inbound frame.
//
// The trailing CRC is not re-verified: notifications come from a device we
// already connected to, and the radio layer has its own integrity checks.
func Decode(frame []byte) (Command, []byte, error) {
	if len(frame) < minFrameLen {
		return 0, nil, ErrFrameTooShort
	}
	if frame[0] != magic0 || frame[1] != magic1 {
		return 0, nil, ErrBadMagic
	}

	cmd := Command(binary.LittleEndian.Uint16(frame[8:10]))

	var payload []byte
	if end := len(frame) - 2; end > headerLen {
		payload = frame[headerLen:end]
	}
	return cmd, payload, nil
}
