package protocol

import (
	"encoding/binary"
	"math"
)

// The command catalog. These ids and payload shapes were captured from the
// vendor app's BLE traffic; there is no public documentation for them.
const (
	CmdSetBrightness   Command = 0x1001
	CmdSetColorTemp    Command = 0x1002
	CmdSetPower        Command = 0x1008
	CmdQueryBrightness Command = 0x1009
	CmdReadState       Command = 0x0006
	CmdQueryInfo       Command = 0x2005
	CmdQueryName       Command = 0x2003
	CmdQueryFirmware   Command = 0x8001
)

// String returns a human-readable name for the command.
func (c Command) String() string {
	switch c {
	case CmdSetBrightness:
		return "set_brightness"
	case CmdSetColorTemp:
		return "set_color_temp"
	case CmdSetPower:
		return "set_power"
	case CmdQueryBrightness:
		return "query_brightness"
	case CmdReadState:
		return "read_state"
	case CmdQueryInfo:
		return "query_info"
	case CmdQueryName:
		return "query_name"
	case CmdQueryFirmware:
		return "query_firmware"
	default:
		return "unknown"
	}
}

// subCommand is the constant marker that opens every non-empty payload.
var subCommand = []byte{0x03, 0x80}

const (
	flagSet   = 0x01
	flagQuery = 0x00
)

// BrightnessPayload builds the Set-Brightness payload: sub-command, set flag,
// IEEE-754 little-endian percent.
func BrightnessPayload(percent float32) []byte {
	p := make([]byte, 0, 7)
	p = append(p, subCommand...)
	p = append(p, flagSet)
	p = binary.LittleEndian.AppendUint32(p, math.Float32bits(percent))
	return p
}

// ColorTempPayload builds the Set-Color-Temperature payload: sub-command, set
// flag, little-endian Kelvin.
func ColorTempPayload(kelvin uint16) []byte {
	p := make([]byte, 0, 5)
	p = append(p, subCommand...)
	p = append(p, flagSet)
	p = binary.LittleEndian.AppendUint16(p, kelvin)
	return p
}

// PowerPayload builds the power on/off payload.
func PowerPayload(on bool) []byte {
	state := byte(0x00)
	if on {
		state = 0x01
	}
	return []byte{subCommand[0], subCommand[1], flagSet, state}
}

// QueryPayload builds the generic query payload used by Query-Brightness and
// Read-Device-State, and by the color-temperature query issued during
// initialization.
//
// TODO: verify on hardware whether 0x1002 with this payload is really read as
// a query; the vendor app reuses the set command id here and the device may
// only be disambiguating by payload length.
func QueryPayload() []byte {
	return []byte{subCommand[0], subCommand[1], flagQuery, 0x00}
}
