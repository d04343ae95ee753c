package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/channel"
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

// Participant drives the viewer side of the join workflow. It connects to
// the room, asks to join the discussion and tracks the moderator's verdict.
type Participant struct {
	ch     Channel
	name   string
	logger *zap.Logger

	mu    sync.Mutex
	state State
	stage signaling.StageCredentials

	events chan Event
}

// NewParticipant creates a participant controller over a channel adapter.
// The adapter's frame dispatch drives the state machine; register before
// connecting so no verdict is missed.
func NewParticipant(ch Channel, name string, logger *zap.Logger) *Participant {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Participant{
		ch:     ch,
		name:   name,
		logger: logger,
		state:  StateIdle,
		events: make(chan Event, 16),
	}
	ch.OnFrame(p.consume)
	return p
}

// State returns the current workflow state.
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stage returns the credentials received with the last accept, if any.
func (p *Participant) Stage() (signaling.StageCredentials, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage, p.stage.Token != ""
}

// Events delivers state transitions. The channel is buffered; when a
// consumer falls behind, transitions are dropped rather than stalling the
// dispatch loop, and State() remains authoritative.
func (p *Participant) Events() <-chan Event {
	return p.events
}

// Ask connects to the room if necessary and broadcasts the ask-to-join
// request. Asking again after a rejection or kick starts a fresh round.
func (p *Participant) Ask(ctx context.Context) error {
	if err := p.ch.Connect(ctx); err != nil {
		return fmt.Errorf("connect room: %w", err)
	}
	if err := p.ch.AwaitJoined(ctx); err != nil {
		if errors.Is(err, channel.ErrNicknameTaken) {
			p.transition(StateNameTaken, signaling.StageCredentials{})
			return err
		}
		return err
	}

	ask := signaling.AskToJoinFrame{
		From: p.ch.Address(),
		Participant: models.Participant{
			ID:   p.ch.Address(),
			Name: p.name,
		},
	}
	if err := p.ch.Send(ask); err != nil {
		return fmt.Errorf("send ask-to-join: %w", err)
	}
	p.transition(StateAsked, signaling.StageCredentials{})
	return nil
}

// Leave announces departure and tears the connection down.
func (p *Participant) Leave() {
	p.ch.Disconnect()
	p.transition(StateIdle, signaling.StageCredentials{})
}

// consume reacts to moderator verdicts addressed to this occupant.
func (p *Participant) consume(f signaling.Frame) {
	switch v := f.(type) {
	case signaling.AcceptFrame:
		if v.To != p.ch.Address() {
			return
		}
		p.transition(StateAccepted, v.Stage)
	case signaling.RejectFrame:
		if v.To != p.ch.Address() {
			return
		}
		p.transition(StateRejected, signaling.StageCredentials{})
	case signaling.KickFrame:
		if v.To != p.ch.Address() {
			return
		}
		p.transition(StateKicked, signaling.StageCredentials{})
	case signaling.KickedFrame:
		// Kicks may be announced only as a broadcast when the moderator
		// lost our direct address; honor those aimed at us too.
		if v.Participant.ID != p.ch.Address() {
			return
		}
		p.transition(StateKicked, signaling.StageCredentials{})
	}
}

func (p *Participant) transition(next State, stage signaling.StageCredentials) {
	p.mu.Lock()
	if p.state == next {
		p.mu.Unlock()
		return
	}
	p.state = next
	p.stage = stage
	p.mu.Unlock()

	select {
	case p.events <- Event{State: next, Stage: stage}:
	default:
		p.logger.Debug("dropping workflow event", zap.String("state", string(next)))
	}
}
