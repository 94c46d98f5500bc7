// Package device defines the identity and observable state of a studio light.
package device

// Identity is the stable, platform-assigned identifier of a physical light.
// It keys every per-device map in the daemon.
type Identity string

// Legal ranges for the adjustable parameters.
const (
	MinBrightness = 0.0
	MaxBrightness = 100.0

	MinColorTempK uint16 = 2700
	MaxColorTempK uint16 = 6500
)

// State is the cached snapshot of one light. It is updated optimistically by
// local writes and corrected by response parsing; observers always see
// clamped values.
type State struct {
	IsOn       bool    `json:"is_on"`
	Brightness float32 `json:"brightness"` // percent, 0..100
	ColorTempK uint16  `json:"color_temp_k"`
	Firmware   string  `json:"firmware,omitempty"`
	Name       string  `json:"name,omitempty"`
	ModelCode  string  `json:"model_code,omitempty"`
	ModelName  string  `json:"model_name,omitempty"`
}

// ClampBrightness clamps a brightness percentage to its legal range.
func ClampBrightness(v float32) float32 {
	if v < MinBrightness {
		return MinBrightness
	}
	if v > MaxBrightness {
		return MaxBrightness
	}
	return v
}

// ClampColorTemp clamps a Kelvin value to the range the lights support.
func ClampColorTemp(k uint16) uint16 {
	if k < MinColorTempK {
		return MinColorTempK
	}
	if k > MaxColorTempK {
		return MaxColorTempK
	}
	return k
}
