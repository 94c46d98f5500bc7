package session

import (
	"sync"

	"github.com/dmoravec/glowd/internal/device"
)

// Target scopes a mutating operation. Zero value means "selected device, or
// everything if nothing is selected".
type Target struct {
	Device device.Identity // explicit device, if non-empty
	All    bool            // fan out to every connected device
}

// Registry owns the set of active sessions and the "currently selected"
// device role. A session exists if and only if its device is connected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[device.Identity]*Session
	selected device.Identity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[device.Identity]*Session),
	}
}

// Add registers a session. The first connected device becomes selected.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Identity()] = s
	if r.selected == "" {
		r.selected = s.Identity()
	}
}

// Remove deregisters and returns the session for id, promoting another
// connected device to selected if id held that role. Returns nil if the
// device was not registered.
func (r *Registry) Remove(id device.Identity) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)

	if r.selected == id {
		r.selected = ""
		for other := range r.sessions {
			r.selected = other
			break
		}
	}
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id device.Identity) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Selected returns the currently selected device, if any.
func (r *Registry) Selected() (device.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected, r.selected != ""
}

// Select makes id the current device. It must be connected.
func (r *Registry) Select(id device.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	r.selected = id
	return true
}

// Identities lists the connected devices.
func (r *Registry) Identities() []device.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]device.Identity, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of connected devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Resolve maps a target to concrete sessions:
//
//  1. an explicit device resolves to that session alone (empty if not
//     connected);
//  2. the all flag resolves to every connected session;
//  3. a selected device resolves to that session;
//  4. with nothing selected, every connected session (fallback broadcast).
func (r *Registry) Resolve(t Target) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t.Device != "" {
		if s, ok := r.sessions[t.Device]; ok {
			return []*Session{s}
		}
		return nil
	}

	if !t.All && r.selected != "" {
		if s, ok := r.sessions[r.selected]; ok {
			return []*Session{s}
		}
		return nil
	}

	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	return all
}
