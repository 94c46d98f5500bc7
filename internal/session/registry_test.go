package session

import (
	"testing"

	"github.com/dmoravec/glowd/internal/device"
)

func newRegistryWith(ids ...device.Identity) (*Registry, map[device.Identity]*Session) {
	r := NewRegistry()
	sessions := make(map[device.Identity]*Session)
	for _, id := range ids {
		s := New(id, &fakeWriter{}, Options{})
		sessions[id] = s
		r.Add(s)
	}
	return r, sessions
}

func identities(sessions []*Session) map[device.Identity]bool {
	out := make(map[device.Identity]bool)
	for _, s := range sessions {
		out[s.Identity()] = true
	}
	return out
}

func TestFirstDeviceBecomesSelected(t *testing.T) {
	r, _ := newRegistryWith("A", "B")
	sel, ok := r.Selected()
	if !ok || sel != "A" {
		t.Errorf("Selected() = %q, %v, want A", sel, ok)
	}
}

func TestResolveExplicitDevice(t *testing.T) {
	r, _ := newRegistryWith("A", "B")

	got := r.Resolve(Target{Device: "B"})
	if len(got) != 1 || got[0].Identity() != "B" {
		t.Errorf("explicit target resolved to %v, want just B", identities(got))
	}

	if got := r.Resolve(Target{Device: "Z"}); len(got) != 0 {
		t.Errorf("unconnected explicit target resolved to %v, want empty", identities(got))
	}
}

func TestResolveAllDevices(t *testing.T) {
	r, _ := newRegistryWith("A", "B", "C")
	got := identities(r.Resolve(Target{All: true}))
	if len(got) != 3 || !got["A"] || !got["B"] || !got["C"] {
		t.Errorf("all target resolved to %v", got)
	}
}

func TestResolveSelectedDevice(t *testing.T) {
	// A is selected, B is merely connected.
	r, _ := newRegistryWith("A", "B")
	got := r.Resolve(Target{})
	if len(got) != 1 || got[0].Identity() != "A" {
		t.Errorf("default target resolved to %v, want selected A", identities(got))
	}
}

func TestResolveFallbackBroadcast(t *testing.T) {
	r, _ := newRegistryWith("A", "B")
	// Connected sessions but no selected device.
	r.selected = ""

	got := identities(r.Resolve(Target{}))
	if len(got) != 2 {
		t.Errorf("fallback broadcast resolved to %v, want both devices", got)
	}
}

func TestExplicitDeviceOverridesAllFlag(t *testing.T) {
	r, _ := newRegistryWith("A", "B")
	got := r.Resolve(Target{Device: "B", All: true})
	if len(got) != 1 || got[0].Identity() != "B" {
		t.Errorf("resolved to %v, want explicit B", identities(got))
	}
}

func TestRemovePromotesAnotherDevice(t *testing.T) {
	r, _ := newRegistryWith("A", "B")

	removed := r.Remove("A")
	if removed == nil || removed.Identity() != "A" {
		t.Fatalf("Remove returned %v, want session A", removed)
	}

	sel, ok := r.Selected()
	if !ok || sel != "B" {
		t.Errorf("Selected() after removing A = %q, %v, want promoted B", sel, ok)
	}
}

func TestRemoveLastDeviceClearsSelection(t *testing.T) {
	r, _ := newRegistryWith("A")
	r.Remove("A")

	if _, ok := r.Selected(); ok {
		t.Error("selection survived removal of the last device")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRemoveUnknownDevice(t *testing.T) {
	r, _ := newRegistryWith("A")
	if got := r.Remove("Z"); got != nil {
		t.Errorf("Remove of unknown device returned %v, want nil", got)
	}
}

func TestSelectRequiresConnectedDevice(t *testing.T) {
	r, _ := newRegistryWith("A", "B")

	if !r.Select("B") {
		t.Error("Select(B) failed for a connected device")
	}
	if sel, _ := r.Selected(); sel != "B" {
		t.Errorf("Selected() = %q, want B", sel)
	}

	if r.Select("Z") {
		t.Error("Select succeeded for an unconnected device")
	}
	if sel, _ := r.Selected(); sel != "B" {
		t.Errorf("failed Select changed selection to %q", sel)
	}
}
