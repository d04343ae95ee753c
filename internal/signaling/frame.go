// Package signaling defines the wire protocol spoken over a session's
// signaling room: the JSON envelope carried on the websocket and the typed
// frames it decodes into. Both the server room and the client adapter speak
// this vocabulary; everything unrecognized is classified, never guessed at.
package signaling

import (
	"encoding/json"
	"time"

	"github.com/classlive/coordinator/internal/models"
)

// Envelope types. Groupchat frames fan out to the whole room, event frames
// are unicast to a single occupant address, presence frames describe room
// membership changes.
const (
	TypeGroupchat = "groupchat"
	TypeEvent     = "event"
	TypePresence  = "presence"
)

// Event names for moderation command frames.
const (
	EventAskToJoin = "PARTICIPANT_ASK_TO_JOIN"
	EventAccept    = "ACCEPT"
	EventAccepted  = "ACCEPTED"
	EventReject    = "REJECT"
	EventRejected  = "REJECTED"
	EventKick      = "KICK"
	EventKicked    = "KICKED"
	EventLeave     = "LEAVE"
)

// Presence kinds. Denied is unicast to a joiner whose nickname is already
// claimed in the room.
const (
	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
	PresenceDenied      = "denied"
)

// StageCredentials are short-lived credentials a participant needs to join
// the stage. Minted fresh by the moderator at ACCEPT time.
type StageCredentials struct {
	Room    string `json:"room"`
	Token   string `json:"token"`
	Domain  string `json:"domain,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

// Envelope is the raw JSON message exchanged on the websocket. Optional
// fields are populated depending on Type/Event; Decode maps the envelope to
// a typed frame.
type Envelope struct {
	Type        string          `json:"type"`
	Event       string          `json:"event,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Body        string          `json:"body,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Delay       *time.Time      `json:"delay,omitempty"`
	EndOfReplay bool            `json:"end_of_replay,omitempty"`
	Participant json.RawMessage `json:"participant,omitempty"`
	Stage       json.RawMessage `json:"jitsi,omitempty"`
	Presence    *PresenceInfo   `json:"presence,omitempty"`
}

// PresenceInfo rides on presence envelopes.
type PresenceInfo struct {
	Kind        string `json:"kind"` // available | unavailable
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"` // owner => moderator
	OnStage     bool   `json:"on_stage,omitempty"`
}

// Frame is the decoded form of an envelope. The set of implementations is
// closed; consumers switch on the concrete type.
type Frame interface {
	isFrame()
}

// AskToJoinFrame: participant -> broadcast. Moderators add the participant
// to the asking-to-join list.
type AskToJoinFrame struct {
	From        string
	Participant models.Participant
}

// AcceptFrame: moderator -> participant unicast, carrying fresh stage
// credentials.
type AcceptFrame struct {
	From  string
	To    string
	Stage StageCredentials
}

// AcceptedFrame: moderator -> broadcast so other moderators sync the lists.
type AcceptedFrame struct {
	From        string
	Participant models.Participant
}

// RejectFrame: moderator -> participant unicast.
type RejectFrame struct {
	From string
	To   string
}

// RejectedFrame: moderator -> broadcast.
type RejectedFrame struct {
	From        string
	Participant models.Participant
}

// KickFrame: moderator -> participant unicast.
type KickFrame struct {
	From string
	To   string
}

// KickedFrame: moderator -> broadcast.
type KickedFrame struct {
	From        string
	Participant models.Participant
}

// LeaveFrame: participant -> broadcast on teardown (best effort).
type LeaveFrame struct {
	From        string
	Participant models.Participant
}

// ChatFrame is a room text message. History is true for replayed messages,
// in which case SentAt comes from the embedded delay timestamp.
type ChatFrame struct {
	From    string
	Body    string
	SentAt  time.Time
	History bool
}

// SubjectFrame is the room subject, sent on join. Consumers ignore it.
type SubjectFrame struct {
	Subject string
}

// HistoryCompleteFrame marks the end of chat history replay.
type HistoryCompleteFrame struct{}

// PresenceFrame is an occupant appearing or disappearing.
type PresenceFrame struct {
	Address     string
	Name        string
	Kind        string
	Affiliation string
	OnStage     bool
}

// UnrecognizedFrame wraps anything that failed to decode. Carried instead of
// an error so handlers can drop it without aborting the dispatch loop.
type UnrecognizedFrame struct {
	Raw    []byte
	Reason string
}

func (AskToJoinFrame) isFrame()       {}
func (AcceptFrame) isFrame()          {}
func (AcceptedFrame) isFrame()        {}
func (RejectFrame) isFrame()          {}
func (RejectedFrame) isFrame()        {}
func (KickFrame) isFrame()            {}
func (KickedFrame) isFrame()          {}
func (LeaveFrame) isFrame()           {}
func (ChatFrame) isFrame()            {}
func (SubjectFrame) isFrame()         {}
func (HistoryCompleteFrame) isFrame() {}
func (PresenceFrame) isFrame()        {}
func (UnrecognizedFrame) isFrame()    {}
