// Package channel is the client side of the signaling room: it dials the
// coordination server's websocket, decodes inbound envelopes into frames and
// dispatches them to registered handlers on a single goroutine, so handler
// code never needs its own locking.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

// ErrNicknameTaken is returned from AwaitJoined when the room denied the
// connection because another occupant holds the same nickname.
var ErrNicknameTaken = errors.New("nickname already present in room")

// ErrNotConnected is returned from Send before Connect has succeeded.
var ErrNotConnected = errors.New("channel not connected")

// Handler consumes one decoded inbound frame. Handlers run sequentially on
// the dispatch goroutine; a slow handler stalls the whole channel.
type Handler func(f signaling.Frame)

// Config describes how to reach a session's signaling room.
type Config struct {
	Endpoint    string // ws(s)://host/ws
	SessionID   uuid.UUID
	Token       string
	Name        string // empty means an anonymous guest nickname is generated
	RoomAddress string // from the session's channel config
}

// Adapter is a connection to one session room. Connect is idempotent; a
// second call on a live connection is a no-op.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nickname  string
	address   string
	handlers  []Handler

	joined chan struct{}
	denied chan struct{}
	closed chan struct{}
}

// NewAdapter creates a disconnected adapter.
func NewAdapter(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger}
}

// OnFrame registers a handler for inbound frames. Safe before or after
// Connect; every handler sees every frame.
func (a *Adapter) OnFrame(h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, h)
}

// Nickname is the name this connection joined under.
func (a *Adapter) Nickname() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nickname
}

// Address is the room address of this occupant, valid after Connect.
func (a *Adapter) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.address
}

// Connect dials the room. Already connected is a no-op, so callers can
// invoke it from several paths without tracking state themselves.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}

	nick := a.cfg.Name
	if nick == "" {
		nick = "guest-" + uuid.NewString()[:8]
	}

	u, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("session_id", a.cfg.SessionID.String())
	q.Set("token", a.cfg.Token)
	q.Set("name", nick)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("dial signaling room: %w", err)
	}

	a.conn = conn
	a.connected = true
	a.nickname = nick
	a.address = a.cfg.RoomAddress + "/" + nick
	a.joined = make(chan struct{})
	a.denied = make(chan struct{})
	a.closed = make(chan struct{})
	a.mu.Unlock()

	go a.readLoop(conn)
	return nil
}

// AwaitJoined blocks until the room echoes our own available presence,
// the room denies the nickname, or ctx expires. The wait is always finite:
// callers pass a deadline context.
func (a *Adapter) AwaitJoined(ctx context.Context) error {
	a.mu.Lock()
	joined, denied, closed := a.joined, a.denied, a.closed
	a.mu.Unlock()
	if joined == nil {
		return ErrNotConnected
	}
	select {
	case <-joined:
		return nil
	case <-denied:
		return ErrNicknameTaken
	case <-closed:
		return fmt.Errorf("connection closed before join completed")
	case <-ctx.Done():
		return fmt.Errorf("waiting for room join: %w", ctx.Err())
	}
}

// Send encodes and writes a frame. The sender address is stamped with this
// connection's own address; the server re-stamps it anyway.
func (a *Adapter) Send(f signaling.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return ErrNotConnected
	}
	env := signaling.EncodeEnvelope(f)
	env.From = a.address
	_ = a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := a.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Disconnect announces departure and closes the connection. The LEAVE
// broadcast is best effort; the room's unavailable presence covers the case
// where it never makes it out.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	conn := a.conn
	leave := signaling.LeaveFrame{
		From:        a.address,
		Participant: models.Participant{ID: a.address, Name: a.nickname},
	}
	env := signaling.EncodeEnvelope(leave)
	a.connected = false
	a.conn = nil
	a.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(env)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer func() {
		a.mu.Lock()
		a.connected = false
		a.conn = nil
		closed := a.closed
		a.mu.Unlock()
		select {
		case <-closed:
		default:
			close(closed)
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame := signaling.Decode(raw, time.Now())
		a.inspect(frame)
		a.dispatch(frame)
	}
}

// inspect watches the inbound stream for this connection's own join outcome.
func (a *Adapter) inspect(f signaling.Frame) {
	p, ok := f.(signaling.PresenceFrame)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.Name != a.nickname {
		return
	}
	switch p.Kind {
	case signaling.PresenceAvailable:
		select {
		case <-a.joined:
		default:
			close(a.joined)
		}
	case signaling.PresenceDenied:
		select {
		case <-a.denied:
		default:
			close(a.denied)
		}
	}
}

func (a *Adapter) dispatch(f signaling.Frame) {
	if u, ok := f.(signaling.UnrecognizedFrame); ok {
		a.logger.Debug("dropping unrecognized frame", zap.String("reason", u.Reason))
		return
	}
	a.mu.Lock()
	handlers := make([]Handler, len(a.handlers))
	copy(handlers, a.handlers)
	a.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}
