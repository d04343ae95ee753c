package models

import (
	"time"

	"github.com/google/uuid"
)

// LiveState is the lifecycle state of a broadcast session. The server owns the
// value; clients cache it and refresh from REST responses and sync events.
type LiveState string

const (
	LiveIdle       LiveState = "IDLE"
	LiveStarting   LiveState = "STARTING"
	LiveRunning    LiveState = "RUNNING"
	LiveStopping   LiveState = "STOPPING"
	LiveStopped    LiveState = "STOPPED"
	LiveHarvesting LiveState = "HARVESTING"
	LiveHarvested  LiveState = "HARVESTED"
)

// LiveType selects the broadcast transport.
type LiveType string

const (
	LiveTypeRaw   LiveType = "RAW"
	LiveTypeJitsi LiveType = "JITSI"
)

// JoinMode controls how ask-to-join requests are handled.
type JoinMode string

const (
	JoinModeNone     JoinMode = "NONE"
	JoinModeApproval JoinMode = "APPROVAL"
	JoinModeForced   JoinMode = "FORCED"
)

// ChannelConfig tells a client how to reach the session's signaling room.
type ChannelConfig struct {
	RoomAddress    string `json:"room_address"`
	Endpoint       string `json:"endpoint"`
	ClientIdentity string `json:"client_identity,omitempty"`
	PersistHistory bool   `json:"persist_history"`
}

// Session is one live broadcast instance. The two participant lists are ordered
// sets unique by participant id, and a given id is never in both at once.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	LiveState    LiveState     `json:"live_state"`
	LiveType     LiveType      `json:"live_type"`
	JoinMode     JoinMode      `json:"join_mode"`
	HasChat      bool          `json:"has_chat"`
	Channel      ChannelConfig `json:"channel_config"`
	AskingToJoin []Participant `json:"participants_asking_to_join"`
	InDiscussion []Participant `json:"participants_in_discussion"`
	CreatedBy    uuid.UUID     `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Asking reports whether the participant id is in the asking-to-join list.
func (s *Session) Asking(id string) bool {
	return containsParticipant(s.AskingToJoin, id)
}

// OnStage reports whether the participant id is in the discussion list.
func (s *Session) OnStage(id string) bool {
	return containsParticipant(s.InDiscussion, id)
}

func containsParticipant(list []Participant, id string) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}
