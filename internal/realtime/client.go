package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/auth"
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// SessionLoader loads the session a joiner wants a room for. Implemented by
// sessions.Repository.
type SessionLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Client is a single websocket occupant of a session room.
type Client struct {
	Address   string // room address + "/" + nickname, stable per connection
	Nickname  string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      string
	OnStage   bool
	JoinedAt  time.Time
	hub       *Hub
	conn      *websocket.Conn
	send      chan signaling.Envelope
	claimTTL  time.Duration
	logger    *zap.Logger
}

// ServeWs handles the websocket upgrade and runs the occupant loop. The
// nickname comes from the name query parameter, falling back to the bearer
// claims; the claim is held in Redis so a second joiner with the same name
// is denied.
func ServeWs(hub *Hub, sessions SessionLoader, validate func(token string) (*auth.Claims, error), claimTTL time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		claims, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		nick := c.Query("name")
		if nick == "" {
			nick = claims.Name
		}
		if nick == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
			return
		}

		session, err := sessions.GetByID(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			Address:   fmt.Sprintf("%s/%s", session.Channel.RoomAddress, nick),
			Nickname:  nick,
			SessionID: sessionID,
			UserID:    claims.UserID,
			Role:      claims.Role,
			JoinedAt:  time.Now(),
			hub:       hub,
			conn:      conn,
			send:      make(chan signaling.Envelope, 256),
			claimTTL:  claimTTL,
			logger:    logger,
		}

		claimed := false
		if hub.pubsub != nil {
			ok, err := hub.pubsub.ClaimNickname(c.Request.Context(), sessionID, nick, claimTTL)
			if err != nil {
				logger.Warn("nickname claim failed", zap.Error(err))
			}
			if err == nil && !ok {
				// The joiner waits a finite time for this frame; it maps the
				// denial to a username-already-existing state.
				client.deny()
				return
			}
			claimed = err == nil && ok
		}

		// The hub check backstops the Redis claim: with no Redis, or a
		// claim that expired under a live connection, a duplicate address
		// must not displace the occupant already holding it.
		if !hub.Register(client, *session) {
			if claimed {
				_ = hub.pubsub.ReleaseNickname(c.Request.Context(), sessionID, nick)
			}
			client.deny()
			return
		}
		go client.writePump()
		client.readPump(*session)
	}
}

// deny tells a joiner its nickname is taken and closes the connection.
func (c *Client) deny() {
	env := signaling.Envelope{
		Type: signaling.TypePresence,
		From: c.Address,
		To:   c.Address,
		Presence: &signaling.PresenceInfo{
			Kind: signaling.PresenceDenied,
			Name: c.Nickname,
		},
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = c.conn.WriteJSON(env)
	_ = c.conn.Close()
}

func (c *Client) enqueue(env signaling.Envelope) {
	select {
	case c.send <- env:
	default:
		// buffer full, skip
	}
}

func (c *Client) readPump(session models.Session) {
	defer func() {
		c.hub.Unregister(c)
		if c.hub.pubsub != nil {
			_ = c.hub.pubsub.ReleaseNickname(context.Background(), c.SessionID, c.Nickname)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if c.hub.pubsub != nil {
			// Keep the nickname claim alive for the connection's lifetime.
			_ = c.hub.pubsub.RefreshNickname(context.Background(), c.SessionID, c.Nickname, c.claimTTL)
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.route(session, raw)
	}
}

// route validates an inbound envelope and forwards it. The sender address is
// always overwritten with the connection's own address so occupants cannot
// speak for each other.
func (c *Client) route(session models.Session, raw []byte) {
	var env signaling.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("dropping malformed frame", zap.String("address", c.Address), zap.Error(err))
		return
	}
	env.From = c.Address

	switch frame := signaling.DecodeEnvelope(env, raw, time.Now()).(type) {
	case signaling.ChatFrame:
		if !session.HasChat {
			return
		}
		c.hub.RecordChat(c.SessionID, c.Address, frame.Body, frame.SentAt)
		c.hub.Broadcast(c.SessionID, env)
	case signaling.AskToJoinFrame, signaling.RejectedFrame:
		c.hub.Broadcast(c.SessionID, env)
	case signaling.AcceptedFrame:
		c.hub.Broadcast(c.SessionID, env)
		c.hub.SetOnStage(c.SessionID, frame.Participant.ID, true)
	case signaling.KickedFrame:
		c.hub.Broadcast(c.SessionID, env)
		c.hub.SetOnStage(c.SessionID, frame.Participant.ID, false)
	case signaling.LeaveFrame:
		c.hub.Broadcast(c.SessionID, env)
		c.hub.SetOnStage(c.SessionID, frame.Participant.ID, false)
	case signaling.AcceptFrame, signaling.RejectFrame, signaling.KickFrame:
		if env.To == "" {
			return
		}
		c.hub.Unicast(c.SessionID, env.To, env)
	case signaling.UnrecognizedFrame:
		c.logger.Debug("dropping unrecognized frame",
			zap.String("address", c.Address),
			zap.String("reason", frame.Reason))
	default:
		// presence and replay control frames are server-generated; ignore
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
