package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

// SessionAPI is the slice of the REST client the moderator needs to keep
// the shared participant lists in sync. Implemented by apiclient.Client.
type SessionAPI interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	AddAsking(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Session, error)
	RemoveAsking(ctx context.Context, sessionID uuid.UUID, participantID string) (*models.Session, error)
	AddDiscussion(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Session, error)
	RemoveDiscussion(ctx context.Context, sessionID uuid.UUID, participantID string) (*models.Session, error)
}

// Moderator drives the moderation side of the workflow. Every moderator in
// the room runs one of these; broadcasts keep them converging on the same
// server-side lists, and the list operations are idempotent so overlapping
// updates are harmless.
type Moderator struct {
	ch        Channel
	api       SessionAPI
	creds     CredentialSource
	sessionID uuid.UUID
	logger    *zap.Logger

	tasks     chan func(context.Context)
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	joinMode models.JoinMode
}

// NewModerator creates a moderator controller over a channel adapter.
func NewModerator(ch Channel, api SessionAPI, creds CredentialSource, sessionID uuid.UUID, logger *zap.Logger) *Moderator {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Moderator{
		ch:        ch,
		api:       api,
		creds:     creds,
		sessionID: sessionID,
		logger:    logger,
		tasks:     make(chan func(context.Context), 64),
		done:      make(chan struct{}),
	}
	go m.runTasks()
	ch.OnFrame(m.consume)
	return m
}

// runTasks applies the queued list mutations one at a time, in arrival
// order. Keeping them off the dispatch goroutine means a slow server never
// stalls chat or presence delivery.
func (m *Moderator) runTasks() {
	for {
		select {
		case <-m.done:
			return
		case fn := <-m.tasks:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			fn(ctx)
			cancel()
		}
	}
}

func (m *Moderator) enqueue(fn func(context.Context)) {
	select {
	case m.tasks <- fn:
	case <-m.done:
	}
}

// Join connects to the room and loads the session so the controller knows
// the join mode. In forced mode pending askers are accepted immediately.
func (m *Moderator) Join(ctx context.Context) error {
	if err := m.ch.Connect(ctx); err != nil {
		return fmt.Errorf("connect room: %w", err)
	}
	if err := m.ch.AwaitJoined(ctx); err != nil {
		return err
	}
	s, err := m.api.GetSession(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	m.mu.Lock()
	m.joinMode = s.JoinMode
	m.mu.Unlock()

	if s.JoinMode == models.JoinModeForced {
		for _, p := range s.AskingToJoin {
			if err := m.Accept(p); err != nil {
				m.logger.Warn("forced accept failed",
					zap.String("participant", p.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// Accept grants a participant the stage: a unicast carrying freshly minted
// credentials, then a broadcast so all moderators record the outcome. The
// server list update happens when the broadcast echoes back.
func (m *Moderator) Accept(p models.Participant) error {
	creds, err := m.creds.Mint(m.sessionID.String(), p.Name)
	if err != nil {
		return fmt.Errorf("mint stage credentials: %w", err)
	}
	accept := signaling.AcceptFrame{From: m.ch.Address(), To: p.ID, Stage: creds}
	if err := m.ch.Send(accept); err != nil {
		return fmt.Errorf("send accept: %w", err)
	}
	accepted := signaling.AcceptedFrame{From: m.ch.Address(), Participant: p}
	if err := m.ch.Send(accepted); err != nil {
		return fmt.Errorf("send accepted: %w", err)
	}
	return nil
}

// Reject declines a pending ask.
func (m *Moderator) Reject(p models.Participant) error {
	reject := signaling.RejectFrame{From: m.ch.Address(), To: p.ID}
	if err := m.ch.Send(reject); err != nil {
		return fmt.Errorf("send reject: %w", err)
	}
	rejected := signaling.RejectedFrame{From: m.ch.Address(), Participant: p}
	if err := m.ch.Send(rejected); err != nil {
		return fmt.Errorf("send rejected: %w", err)
	}
	return nil
}

// Kick removes a participant from the discussion.
func (m *Moderator) Kick(p models.Participant) error {
	kick := signaling.KickFrame{From: m.ch.Address(), To: p.ID}
	if err := m.ch.Send(kick); err != nil {
		return fmt.Errorf("send kick: %w", err)
	}
	kicked := signaling.KickedFrame{From: m.ch.Address(), Participant: p}
	if err := m.ch.Send(kicked); err != nil {
		return fmt.Errorf("send kicked: %w", err)
	}
	return nil
}

// Leave stops the mutation worker and tears down the room connection.
func (m *Moderator) Leave() {
	m.closeOnce.Do(func() { close(m.done) })
	m.ch.Disconnect()
}

// consume reacts to room broadcasts and mirrors them into the server-side
// lists. The room echoes a moderator's own broadcasts back, so the acting
// moderator takes the same path as its peers. Server calls are queued, never
// made inline; frame dispatch stays fire-and-forget.
func (m *Moderator) consume(f signaling.Frame) {
	switch v := f.(type) {
	case signaling.AskToJoinFrame:
		p := v.Participant
		m.enqueue(func(ctx context.Context) {
			if _, err := m.api.AddAsking(ctx, m.sessionID, p); err != nil {
				m.logger.Warn("record ask failed", zap.String("participant", p.ID), zap.Error(err))
			}
		})
		m.mu.Lock()
		forced := m.joinMode == models.JoinModeForced
		m.mu.Unlock()
		if forced {
			if err := m.Accept(p); err != nil {
				m.logger.Warn("forced accept failed", zap.String("participant", p.ID), zap.Error(err))
			}
		}
	case signaling.AcceptedFrame:
		p := v.Participant
		m.enqueue(func(ctx context.Context) {
			if _, err := m.api.AddDiscussion(ctx, m.sessionID, p); err != nil {
				m.logger.Warn("record accept failed", zap.String("participant", p.ID), zap.Error(err))
			}
		})
	case signaling.RejectedFrame:
		id := v.Participant.ID
		m.enqueue(func(ctx context.Context) {
			if _, err := m.api.RemoveAsking(ctx, m.sessionID, id); err != nil {
				m.logger.Warn("record reject failed", zap.String("participant", id), zap.Error(err))
			}
		})
	case signaling.KickedFrame:
		id := v.Participant.ID
		m.enqueue(func(ctx context.Context) {
			if _, err := m.api.RemoveDiscussion(ctx, m.sessionID, id); err != nil {
				m.logger.Warn("record kick failed", zap.String("participant", id), zap.Error(err))
			}
		})
	case signaling.LeaveFrame:
		id := v.Participant.ID
		m.enqueue(func(ctx context.Context) {
			// A departed participant belongs on neither list.
			if _, err := m.api.RemoveAsking(ctx, m.sessionID, id); err != nil {
				m.logger.Warn("record leave failed", zap.String("participant", id), zap.Error(err))
			}
			if _, err := m.api.RemoveDiscussion(ctx, m.sessionID, id); err != nil {
				m.logger.Warn("record leave failed", zap.String("participant", id), zap.Error(err))
			}
		})
	}
}
