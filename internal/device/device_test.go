package device

import "testing"

func TestClampBrightness(t *testing.T) {
	tests := []struct {
		in, want float32
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		if got := ClampBrightness(tt.in); got != tt.want {
			t.Errorf("ClampBrightness(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClampColorTemp(t *testing.T) {
	tests := []struct {
		in, want uint16
	}{
		{0, 2700},
		{2699, 2700},
		{2700, 2700},
		{4300, 4300},
		{6500, 6500},
		{9000, 6500},
	}
	for _, tt := range tests {
		if got := ClampColorTemp(tt.in); got != tt.want {
			t.Errorf("ClampColorTemp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMatchModel(t *testing.T) {
	tests := []struct {
		advertised string
		wantCode   string
		wantName   string
		wantOK     bool
	}{
		{"GL-S60-A1B2", "GL-S60", "Glow S60", true},
		{"GL-S100", "GL-S100", "Glow S100", true},
		{"GL-P40_studio", "GL-P40", "Glow Panel 40", true},
		{"GL-RGB1-0042", "GL-RGB1", "Glow RGB One", true},
		{"SomeOtherLamp", "", "", false},
		{"", "", "", false},
		{"GL-", "", "", false},
	}
	for _, tt := range tests {
		code, name, ok := MatchModel(tt.advertised)
		if code != tt.wantCode || name != tt.wantName || ok != tt.wantOK {
			t.Errorf("MatchModel(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.advertised, code, name, ok, tt.wantCode, tt.wantName, tt.wantOK)
		}
	}
}
