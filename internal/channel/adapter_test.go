package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/coordinator/internal/signaling"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// roomStub upgrades the connection and answers the join with the given
// presence kind, then keeps reading so the adapter can send.
func roomStub(t *testing.T, kind string, inbound chan<- signaling.Envelope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error("upgrade failed:", err)
			return
		}
		name := r.URL.Query().Get("name")
		_ = conn.WriteJSON(signaling.Envelope{
			Type: signaling.TypePresence,
			From: "room@conf/" + name,
			Presence: &signaling.PresenceInfo{
				Kind: kind,
				Name: name,
			},
		})
		for {
			var env signaling.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if inbound != nil {
				inbound <- env
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectAndAwaitJoined(t *testing.T) {
	srv := httptest.NewServer(roomStub(t, signaling.PresenceAvailable, nil))
	defer srv.Close()

	a := NewAdapter(Config{
		Endpoint:    wsURL(srv),
		SessionID:   uuid.New(),
		Token:       "tok",
		Name:        "alice",
		RoomAddress: "room@conf",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Connect(ctx), "connect is idempotent")
	require.NoError(t, a.AwaitJoined(ctx))
	assert.Equal(t, "alice", a.Nickname())
	assert.Equal(t, "room@conf/alice", a.Address())
	a.Disconnect()
}

func TestNicknameDenied(t *testing.T) {
	srv := httptest.NewServer(roomStub(t, signaling.PresenceDenied, nil))
	defer srv.Close()

	a := NewAdapter(Config{
		Endpoint:    wsURL(srv),
		SessionID:   uuid.New(),
		Token:       "tok",
		Name:        "alice",
		RoomAddress: "room@conf",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))
	assert.ErrorIs(t, a.AwaitJoined(ctx), ErrNicknameTaken)
}

func TestGuestNicknameGenerated(t *testing.T) {
	srv := httptest.NewServer(roomStub(t, signaling.PresenceAvailable, nil))
	defer srv.Close()

	a := NewAdapter(Config{
		Endpoint:    wsURL(srv),
		SessionID:   uuid.New(),
		Token:       "tok",
		RoomAddress: "room@conf",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.AwaitJoined(ctx))
	assert.True(t, strings.HasPrefix(a.Nickname(), "guest-"))
}

func TestSendStampsSenderAddress(t *testing.T) {
	inbound := make(chan signaling.Envelope, 4)
	srv := httptest.NewServer(roomStub(t, signaling.PresenceAvailable, inbound))
	defer srv.Close()

	a := NewAdapter(Config{
		Endpoint:    wsURL(srv),
		SessionID:   uuid.New(),
		Token:       "tok",
		Name:        "alice",
		RoomAddress: "room@conf",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.AwaitJoined(ctx))

	require.NoError(t, a.Send(signaling.ChatFrame{Body: "hello"}))
	select {
	case env := <-inbound:
		assert.Equal(t, signaling.TypeGroupchat, env.Type)
		assert.Equal(t, "hello", env.Body)
		assert.Equal(t, "room@conf/alice", env.From)
	case <-time.After(2 * time.Second):
		t.Fatal("room never received the frame")
	}
}

func TestHandlersSeeDecodedFrames(t *testing.T) {
	srv := httptest.NewServer(roomStub(t, signaling.PresenceAvailable, nil))
	defer srv.Close()

	a := NewAdapter(Config{
		Endpoint:    wsURL(srv),
		SessionID:   uuid.New(),
		Token:       "tok",
		Name:        "alice",
		RoomAddress: "room@conf",
	}, nil)

	frames := make(chan signaling.Frame, 4)
	a.OnFrame(func(f signaling.Frame) { frames <- f })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))

	select {
	case f := <-frames:
		p, ok := f.(signaling.PresenceFrame)
		require.True(t, ok)
		assert.Equal(t, "alice", p.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestSendBeforeConnect(t *testing.T) {
	a := NewAdapter(Config{RoomAddress: "room@conf"}, nil)
	assert.ErrorIs(t, a.Send(signaling.ChatFrame{Body: "x"}), ErrNotConnected)
	assert.ErrorIs(t, a.AwaitJoined(context.Background()), ErrNotConnected)
}
