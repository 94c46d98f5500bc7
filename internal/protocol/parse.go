package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

// ErrUnknownCommand is returned by ParseResponse for command ids outside the
// catalog. Callers log and drop these; an unknown frame is never fatal.
var ErrUnknownCommand = errors.New("unknown command id")

// Update carries the device-state fields a decoded response sets. Nil fields
// were not present in the response.
type Update struct {
	Brightness *float32
	ColorTempK *uint16
	Power      *bool
	Firmware   *string
	Name       *string
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.Brightness == nil && u.ColorTempK == nil && u.Power == nil &&
		u.Firmware == nil && u.Name == nil
}

// ParseResponse interprets an inbound (command, payload) pair as a state
// update. Recognized commands with payloads too short to carry their fields
// yield an empty Update rather than an error.
func ParseResponse(cmd Command, payload []byte) (Update, error) {
	var u Update

	switch cmd {
	case CmdSetBrightness, CmdQueryBrightness:
		if len(payload) >= 7 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(payload[3:7]))
			on := v > 0
			u.Brightness = &v
			u.Power = &on
		}
	case CmdSetColorTemp:
		if len(payload) >= 5 {
			k := binary.LittleEndian.Uint16(payload[3:5])
			u.ColorTempK = &k
		}
	case CmdSetPower:
		// Echoes mirror the request layout: sub-command, set flag, then the
		// state byte, same as the brightness and color-temperature echoes.
		if len(payload) >= 4 {
			on := payload[3] == 0x01
			u.Power = &on
		}
	case CmdQueryFirmware:
		fw := cleanText(payload)
		u.Firmware = &fw
	case CmdQueryName:
		name := cleanText(payload)
		u.Name = &name
	case CmdReadState, CmdQueryInfo:
		// Acknowledged but carries nothing we track beyond the echoes above.
	default:
		return Update{}, ErrUnknownCommand
	}

	return u, nil
}

// cleanText interprets a payload as UTF-8 text, trimming NUL padding.
func cleanText(payload []byte) string {
	return strings.TrimRight(string(payload), "\x00")
}
