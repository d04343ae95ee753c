// Package lifecycle drives the client side of the broadcast lifecycle. The
// server owns the real state; the machine reflects commands optimistically
// and reconciles with whatever the server answers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/apiclient"
	"github.com/classlive/coordinator/internal/models"
)

// ErrConfirmRequired is returned from Start when the session has already
// been harvested and restarting would erase the previous recording. Retry
// with confirm set once the operator agrees.
var ErrConfirmRequired = errors.New("restart erases the harvested recording; confirmation required")

// LiveAPI is the slice of the REST client the machine needs. Implemented by
// apiclient.Client.
type LiveAPI interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	StartLive(ctx context.Context, sessionID uuid.UUID, confirm bool) (*models.Session, error)
	StopLive(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	ManifestReady(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// Machine mirrors one session's live lifecycle on the client. Start and
// Stop flip the local state to STARTING/STOPPING immediately so the UI can
// react, then adopt the server's answer.
type Machine struct {
	api          LiveAPI
	sessionID    uuid.UUID
	pollInterval time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	state    models.LiveState
	liveType models.LiveType
	playable bool
}

// NewMachine creates a machine in the IDLE state; call Sync to adopt the
// server's current view.
func NewMachine(api LiveAPI, sessionID uuid.UUID, pollInterval time.Duration, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		api:          api,
		sessionID:    sessionID,
		pollInterval: pollInterval,
		logger:       logger,
		state:        models.LiveIdle,
	}
}

// State returns the machine's current view of the lifecycle.
func (m *Machine) State() models.LiveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Playable reports whether the broadcast can actually be watched. For RAW
// sessions this is driven by the manifest poll, not the lifecycle state;
// RUNNING alone does not mean segments are being served yet.
func (m *Machine) Playable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playable
}

// Sync refreshes the machine from the server.
func (m *Machine) Sync(ctx context.Context) (*models.Session, error) {
	s, err := m.api.GetSession(ctx, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	m.adopt(s)
	return s, nil
}

// Start requests the broadcast to start. confirm acknowledges the loss of a
// previously harvested recording; without it a harvested session returns
// ErrConfirmRequired and the state is left untouched.
func (m *Machine) Start(ctx context.Context, confirm bool) error {
	prev := m.swap(models.LiveStarting)
	s, err := m.api.StartLive(ctx, m.sessionID, confirm)
	if err != nil {
		m.swap(prev)
		var se *apiclient.StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			return ErrConfirmRequired
		}
		return fmt.Errorf("start live: %w", err)
	}
	m.adopt(s)
	return nil
}

// Stop requests the broadcast to stop. Harvesting continues server-side
// after this returns; poll Sync to observe HARVESTED.
func (m *Machine) Stop(ctx context.Context) error {
	prev := m.swap(models.LiveStopping)
	s, err := m.api.StopLive(ctx, m.sessionID)
	if err != nil {
		m.swap(prev)
		return fmt.Errorf("stop live: %w", err)
	}
	m.adopt(s)
	return nil
}

// WatchState polls the server and keeps the cached lifecycle state fresh.
// Viewers run this; they never call Start or Stop themselves, so without it
// their cached state would stay frozen at whatever it was on join.
func (m *Machine) WatchState(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil {
				m.logger.Debug("state poll failed", zap.Error(err))
			}
		}
	}
}

// WatchManifest polls the distribution manifest and keeps the playable flag
// current. Only meaningful for RAW sessions; returns when ctx is done.
func (m *Machine) WatchManifest(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready, err := m.api.ManifestReady(ctx, m.sessionID)
			if err != nil {
				m.logger.Debug("manifest probe failed", zap.Error(err))
				continue
			}
			m.mu.Lock()
			changed := m.playable != ready
			m.playable = ready
			m.mu.Unlock()
			if changed {
				m.logger.Info("manifest availability changed",
					zap.String("session_id", m.sessionID.String()),
					zap.Bool("playable", ready))
			}
		}
	}
}

func (m *Machine) swap(next models.LiveState) models.LiveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = next
	return prev
}

func (m *Machine) adopt(s *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.LiveState
	m.liveType = s.LiveType
	if s.LiveType == models.LiveTypeJitsi {
		// Stage sessions are watchable as soon as the server says running.
		m.playable = s.LiveState == models.LiveRunning
	}
}
