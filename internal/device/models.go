package device

import "strings"

// modelNames maps advertised-name prefixes (the model code) to marketing
// names. Only devices advertising one of these prefixes are treated as
// supported lights during discovery.
var modelNames = map[string]string{
	"GL-S60":  "Glow S60",
	"GL-S100": "Glow S100",
	"GL-P40":  "Glow Panel 40",
	"GL-RGB1": "Glow RGB One",
}

// MatchModel reports whether an advertised device name belongs to a supported
// light, returning the model code and human-readable model name. The longest
// matching prefix wins when codes overlap.
func MatchModel(advertised string) (code, name string, ok bool) {
	for prefix, model := range modelNames {
		if strings.HasPrefix(advertised, prefix) && len(prefix) > len(code) {
			code, name, ok = prefix, model, true
		}
	}
	return code, name, ok
}

// SupportedModels returns the known model codes.
func SupportedModels() []string {
	codes := make([]string, 0, len(modelNames))
	for code := range modelNames {
		codes = append(codes, code)
	}
	return codes
}
