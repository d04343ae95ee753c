// Package workflow implements the join/moderation workflow on top of the
// signaling channel: participants ask to join the discussion, moderators
// accept, reject or kick them, and every moderator keeps the server-side
// participant lists in sync by reacting to the broadcast outcomes.
package workflow

import (
	"context"

	"github.com/classlive/coordinator/internal/channel"
	"github.com/classlive/coordinator/internal/signaling"
)

// Channel is the slice of the signaling adapter the controllers use.
// Implemented by channel.Adapter.
type Channel interface {
	Connect(ctx context.Context) error
	AwaitJoined(ctx context.Context) error
	Send(f signaling.Frame) error
	OnFrame(h channel.Handler)
	Address() string
	Nickname() string
	Disconnect()
}

// State is the participant's position in the join workflow.
type State string

const (
	StateIdle      State = "IDLE"
	StateAsked     State = "ASKED"
	StateAccepted  State = "ACCEPTED"
	StateRejected  State = "REJECTED"
	StateKicked    State = "KICKED"
	StateNameTaken State = "USERNAME_ALREADY_EXISTING"
)

// Event is emitted whenever the participant's state changes. Stage is
// populated only on the transition into StateAccepted.
type Event struct {
	State State
	Stage signaling.StageCredentials
}

// CredentialSource mints fresh stage credentials at accept time. Credentials
// are short-lived, so they are never minted ahead of the ACCEPT that carries
// them.
type CredentialSource interface {
	Mint(sessionID, participantName string) (signaling.StageCredentials, error)
}
