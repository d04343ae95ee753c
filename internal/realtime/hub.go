package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/auth"
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

// Hub maintains session rooms and fans frames out to their occupants. A room
// is the shared group-chat channel a session's clients use for both
// moderation signaling and text chat.
type Hub struct {
	rooms        map[uuid.UUID]*room
	subs         map[uuid.UUID]func() // cancel Redis subscription per room
	mu           sync.RWMutex
	logger       *zap.Logger
	pubsub       *RedisPubSub
	historyLimit int
}

type room struct {
	session   models.Session
	occupants map[string]*Client // keyed by occupant address
	history   []historyEntry
	subject   string
}

type historyEntry struct {
	from   string
	body   string
	sentAt time.Time
}

// NewHub creates a signaling hub. pubsub may be nil in single-instance
// deployments; rooms then fan out locally only.
func NewHub(logger *zap.Logger, pubsub *RedisPubSub, historyLimit int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:        make(map[uuid.UUID]*room),
		subs:         make(map[uuid.UUID]func()),
		logger:       logger,
		pubsub:       pubsub,
		historyLimit: historyLimit,
	}
}

// Register adds a client to its session room and replays room state to it:
// the subject, the current roster, chat history with delay timestamps, and
// the end-of-replay sentinel. The new occupant's presence is broadcast to
// everyone else. Returns false when the address is already occupied; the
// existing occupant keeps its connection and the caller denies the joiner.
func (h *Hub) Register(c *Client, session models.Session) bool {
	h.mu.Lock()
	rm := h.rooms[c.SessionID]
	if rm != nil {
		if _, taken := rm.occupants[c.Address]; taken {
			h.mu.Unlock()
			h.logger.Warn("rejecting duplicate occupant address",
				zap.String("address", c.Address),
				zap.String("session_id", c.SessionID.String()))
			return false
		}
	}
	if rm == nil {
		rm = &room{
			session:   session,
			occupants: make(map[string]*Client),
			subject:   session.Title,
		}
		h.rooms[c.SessionID] = rm
		if h.pubsub != nil {
			sessionID := c.SessionID
			cancel, err := h.pubsub.SubscribeSession(sessionID, func(to string, env signaling.Envelope) {
				h.deliverLocal(sessionID, to, env)
			})
			if err == nil {
				h.subs[sessionID] = cancel
			} else {
				h.logger.Warn("room redis subscription failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}
	}
	rm.occupants[c.Address] = c

	// Snapshot for replay outside the lock.
	roster := make([]signaling.Envelope, 0, len(rm.occupants))
	for _, occ := range rm.occupants {
		roster = append(roster, presenceEnvelope(occ, signaling.PresenceAvailable))
	}
	replay := make([]signaling.Envelope, 0, len(rm.history))
	for _, e := range rm.history {
		sentAt := e.sentAt
		replay = append(replay, signaling.Envelope{
			Type:  signaling.TypeGroupchat,
			From:  e.from,
			Body:  e.body,
			Delay: &sentAt,
		})
	}
	subject := rm.subject
	h.mu.Unlock()

	c.enqueue(signaling.Envelope{Type: signaling.TypeGroupchat, Subject: subject})
	for _, env := range roster {
		c.enqueue(env)
	}
	for _, env := range replay {
		c.enqueue(env)
	}
	c.enqueue(signaling.Envelope{Type: signaling.TypeGroupchat, EndOfReplay: true})

	h.Broadcast(c.SessionID, presenceEnvelope(c, signaling.PresenceAvailable))
	h.logger.Debug("occupant joined room",
		zap.String("address", c.Address),
		zap.String("session_id", c.SessionID.String()))
	return true
}

// Unregister removes a client from its room and broadcasts its unavailable
// presence. The room is dropped once the last occupant leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	rm, ok := h.rooms[c.SessionID]
	if ok {
		delete(rm.occupants, c.Address)
		if len(rm.occupants) == 0 {
			delete(h.rooms, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()

	h.Broadcast(c.SessionID, presenceEnvelope(c, signaling.PresenceUnavailable))
	h.logger.Debug("occupant left room",
		zap.String("address", c.Address),
		zap.String("session_id", c.SessionID.String()))
}

// Broadcast sends an envelope to every occupant of a room, here and on other
// instances.
func (h *Hub) Broadcast(sessionID uuid.UUID, env signaling.Envelope) {
	h.deliverLocal(sessionID, "", env)
	if h.pubsub != nil {
		if err := h.pubsub.PublishFrame(sessionID, "", env); err != nil {
			h.logger.Warn("redis publish failed", zap.Error(err))
		}
	}
}

// Unicast sends an envelope to a single occupant by address. When the target
// is not connected to this instance the frame is published so its instance
// delivers it.
func (h *Hub) Unicast(sessionID uuid.UUID, to string, env signaling.Envelope) {
	h.mu.RLock()
	rm := h.rooms[sessionID]
	var target *Client
	if rm != nil {
		target = rm.occupants[to]
	}
	h.mu.RUnlock()

	if target != nil {
		target.enqueue(env)
		return
	}
	if h.pubsub != nil {
		if err := h.pubsub.PublishFrame(sessionID, to, env); err != nil {
			h.logger.Warn("redis publish failed", zap.Error(err))
		}
	}
}

// RecordChat appends a chat message to the room's replay buffer when the
// session's channel persists history.
func (h *Hub) RecordChat(sessionID uuid.UUID, from, body string, sentAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[sessionID]
	if rm == nil || !rm.session.Channel.PersistHistory {
		return
	}
	rm.history = append(rm.history, historyEntry{from: from, body: body, sentAt: sentAt})
	if h.historyLimit > 0 && len(rm.history) > h.historyLimit {
		rm.history = rm.history[len(rm.history)-h.historyLimit:]
	}
}

// SetOnStage flips an occupant's on-stage flag and re-broadcasts its
// presence so rosters update. The room derives stage membership from the
// ACCEPTED/KICKED/LEAVE traffic passing through it.
func (h *Hub) SetOnStage(sessionID uuid.UUID, participantID string, onStage bool) {
	h.mu.Lock()
	rm := h.rooms[sessionID]
	var target *Client
	if rm != nil {
		target = rm.occupants[participantID]
	}
	if target != nil {
		target.OnStage = onStage
	}
	h.mu.Unlock()

	if target != nil {
		h.Broadcast(sessionID, presenceEnvelope(target, signaling.PresenceAvailable))
	}
}

// RoomSession returns the cached session a room was opened with.
func (h *Hub) RoomSession(sessionID uuid.UUID) (models.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.rooms[sessionID]
	if !ok {
		return models.Session{}, false
	}
	return rm.session, true
}

// OccupantCount returns the number of connected occupants in a room.
func (h *Hub) OccupantCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm := h.rooms[sessionID]
	if rm == nil {
		return 0
	}
	return len(rm.occupants)
}

// deliverLocal hands an envelope to occupants connected to this instance.
// Empty to means broadcast.
func (h *Hub) deliverLocal(sessionID uuid.UUID, to string, env signaling.Envelope) {
	h.mu.RLock()
	rm := h.rooms[sessionID]
	if rm == nil {
		h.mu.RUnlock()
		return
	}
	var targets []*Client
	if to == "" {
		targets = make([]*Client, 0, len(rm.occupants))
		for _, occ := range rm.occupants {
			targets = append(targets, occ)
		}
	} else if occ, ok := rm.occupants[to]; ok {
		targets = []*Client{occ}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.enqueue(env)
	}
}

func presenceEnvelope(c *Client, kind string) signaling.Envelope {
	affiliation := ""
	if c.Role == auth.RoleModerator {
		affiliation = "owner"
	}
	return signaling.Envelope{
		Type: signaling.TypePresence,
		From: c.Address,
		Presence: &signaling.PresenceInfo{
			Kind:        kind,
			Name:        c.Nickname,
			Affiliation: affiliation,
			OnStage:     c.OnStage,
		},
	}
}
