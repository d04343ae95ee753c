// Package presence tracks who is currently in a session room, derived from
// the presence frames the room emits.
package presence

import (
	"sort"
	"sync"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

// Tracker is the client-side room roster. Entries are keyed by nickname;
// a repeated available presence for the same name overwrites the previous
// entry, so the latest frame always wins.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]models.PresenceEntry
}

// NewTracker creates an empty roster.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]models.PresenceEntry)}
}

// Consume feeds one inbound frame to the roster. Non-presence frames are
// ignored, so it can be registered directly as a channel handler.
func (t *Tracker) Consume(f signaling.Frame) {
	p, ok := f.(signaling.PresenceFrame)
	if !ok || p.Name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch p.Kind {
	case signaling.PresenceAvailable:
		role := models.RoleParticipant
		if p.Affiliation == "owner" {
			role = models.RoleModerator
		}
		t.entries[p.Name] = models.PresenceEntry{
			Name:    p.Name,
			Address: p.Address,
			Role:    role,
			OnStage: p.OnStage,
		}
	case signaling.PresenceUnavailable:
		delete(t.entries, p.Name)
	}
}

// Occupants returns the roster sorted by name.
func (t *Tracker) Occupants() []models.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.PresenceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Moderators returns the roster entries with the moderator role.
func (t *Tracker) Moderators() []models.PresenceEntry {
	var out []models.PresenceEntry
	for _, e := range t.Occupants() {
		if e.Role == models.RoleModerator {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the entry for a nickname.
func (t *Tracker) Lookup(name string) (models.PresenceEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	return e, ok
}

// Reset clears the roster for a reconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]models.PresenceEntry)
}
