package models

// PresenceRole is derived from the room affiliation: owners are moderators.
type PresenceRole string

const (
	RoleModerator   PresenceRole = "MODERATOR"
	RoleParticipant PresenceRole = "PARTICIPANT"
)

// PresenceEntry is one occupant in the derived roster. Not persisted; rebuilt
// from presence events, last write for a given name wins.
type PresenceEntry struct {
	Name    string       `json:"name"`
	Address string       `json:"address"`
	Role    PresenceRole `json:"role"`
	OnStage bool         `json:"on_stage"`
}
