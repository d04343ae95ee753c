package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/coordinator/internal/channel"
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

type fakeChannel struct {
	mu       sync.Mutex
	handlers []channel.Handler
	sent     []signaling.Frame
	denied   bool
	address  string
}

func newFakeChannel(address string) *fakeChannel {
	return &fakeChannel{address: address}
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }

func (f *fakeChannel) AwaitJoined(ctx context.Context) error {
	if f.denied {
		return channel.ErrNicknameTaken
	}
	return nil
}

func (f *fakeChannel) Send(fr signaling.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeChannel) OnFrame(h channel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeChannel) Address() string  { return f.address }
func (f *fakeChannel) Nickname() string { return "nick" }
func (f *fakeChannel) Disconnect()      {}

// deliver simulates an inbound frame from the room.
func (f *fakeChannel) deliver(fr signaling.Frame) {
	f.mu.Lock()
	handlers := make([]channel.Handler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()
	for _, h := range handlers {
		h(fr)
	}
}

func (f *fakeChannel) sentFrames() []signaling.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signaling.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeAPI struct {
	mu                sync.Mutex
	session           *models.Session
	block             chan struct{} // when set, list calls wait until it is closed
	ops               []string
	askAdded          []string
	askRemoved        []string
	discussionAdded   []string
	discussionRemoved []string
}

// apiCalls is a consistent snapshot of everything the moderator recorded.
type apiCalls struct {
	askAdded, askRemoved, discussionAdded, discussionRemoved []string
}

func (f *fakeAPI) calls() apiCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return apiCalls{
		askAdded:          append([]string(nil), f.askAdded...),
		askRemoved:        append([]string(nil), f.askRemoved...),
		discussionAdded:   append([]string(nil), f.discussionAdded...),
		discussionRemoved: append([]string(nil), f.discussionRemoved...),
	}
}

func (f *fakeAPI) opsLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeAPI) wait() {
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeAPI) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return f.session, nil
}

func (f *fakeAPI) AddAsking(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Session, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "add_asking")
	f.askAdded = append(f.askAdded, p.ID)
	return f.session, nil
}

func (f *fakeAPI) RemoveAsking(ctx context.Context, sessionID uuid.UUID, id string) (*models.Session, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "remove_asking")
	f.askRemoved = append(f.askRemoved, id)
	return f.session, nil
}

func (f *fakeAPI) AddDiscussion(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Session, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "add_discussion")
	f.discussionAdded = append(f.discussionAdded, p.ID)
	return f.session, nil
}

func (f *fakeAPI) RemoveDiscussion(ctx context.Context, sessionID uuid.UUID, id string) (*models.Session, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "remove_discussion")
	f.discussionRemoved = append(f.discussionRemoved, id)
	return f.session, nil
}

type fakeCreds struct{}

func (fakeCreds) Mint(sessionID, participantName string) (signaling.StageCredentials, error) {
	return signaling.StageCredentials{Room: "stage-" + sessionID, Token: "tok"}, nil
}

func TestParticipantAskThenAccept(t *testing.T) {
	ch := newFakeChannel("room/alice")
	p := NewParticipant(ch, "alice", nil)

	require.NoError(t, p.Ask(context.Background()))
	assert.Equal(t, StateAsked, p.State())

	sent := ch.sentFrames()
	require.Len(t, sent, 1)
	ask, ok := sent[0].(signaling.AskToJoinFrame)
	require.True(t, ok)
	assert.Equal(t, "room/alice", ask.Participant.ID)

	ch.deliver(signaling.AcceptFrame{
		From:  "room/teacher",
		To:    "room/alice",
		Stage: signaling.StageCredentials{Room: "stage-1", Token: "tok"},
	})
	assert.Equal(t, StateAccepted, p.State())
	creds, ok := p.Stage()
	require.True(t, ok)
	assert.Equal(t, "stage-1", creds.Room)
}

func TestParticipantIgnoresVerdictsForOthers(t *testing.T) {
	ch := newFakeChannel("room/alice")
	p := NewParticipant(ch, "alice", nil)
	require.NoError(t, p.Ask(context.Background()))

	ch.deliver(signaling.AcceptFrame{From: "room/teacher", To: "room/bob"})
	ch.deliver(signaling.RejectFrame{From: "room/teacher", To: "room/bob"})
	assert.Equal(t, StateAsked, p.State())
}

func TestParticipantRejectThenReAsk(t *testing.T) {
	ch := newFakeChannel("room/alice")
	p := NewParticipant(ch, "alice", nil)
	require.NoError(t, p.Ask(context.Background()))

	ch.deliver(signaling.RejectFrame{From: "room/teacher", To: "room/alice"})
	assert.Equal(t, StateRejected, p.State())

	// A rejection is not final; asking again starts a fresh round.
	require.NoError(t, p.Ask(context.Background()))
	assert.Equal(t, StateAsked, p.State())
}

func TestParticipantKickedFromStage(t *testing.T) {
	ch := newFakeChannel("room/alice")
	p := NewParticipant(ch, "alice", nil)
	require.NoError(t, p.Ask(context.Background()))

	ch.deliver(signaling.AcceptFrame{From: "room/teacher", To: "room/alice"})
	ch.deliver(signaling.KickFrame{From: "room/teacher", To: "room/alice"})
	assert.Equal(t, StateKicked, p.State())
}

func TestParticipantNicknameTaken(t *testing.T) {
	ch := newFakeChannel("room/alice")
	ch.denied = true
	p := NewParticipant(ch, "alice", nil)

	err := p.Ask(context.Background())
	assert.ErrorIs(t, err, channel.ErrNicknameTaken)
	assert.Equal(t, StateNameTaken, p.State())
}

func TestParticipantEventsCarryTransitions(t *testing.T) {
	ch := newFakeChannel("room/alice")
	p := NewParticipant(ch, "alice", nil)
	require.NoError(t, p.Ask(context.Background()))
	ch.deliver(signaling.AcceptFrame{From: "room/teacher", To: "room/alice"})

	var states []State
	for {
		select {
		case ev := <-p.Events():
			states = append(states, ev.State)
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, []State{StateAsked, StateAccepted}, states)
}

func TestModeratorAcceptSendsUnicastAndBroadcast(t *testing.T) {
	ch := newFakeChannel("room/teacher")
	api := &fakeAPI{session: &models.Session{JoinMode: models.JoinModeApproval}}
	m := NewModerator(ch, api, fakeCreds{}, uuid.New(), nil)

	require.NoError(t, m.Accept(models.Participant{ID: "room/alice", Name: "alice"}))

	sent := ch.sentFrames()
	require.Len(t, sent, 2)
	accept, ok := sent[0].(signaling.AcceptFrame)
	require.True(t, ok)
	assert.Equal(t, "room/alice", accept.To)
	assert.NotEmpty(t, accept.Stage.Token, "accept carries freshly minted credentials")
	accepted, ok := sent[1].(signaling.AcceptedFrame)
	require.True(t, ok)
	assert.Equal(t, "room/alice", accepted.Participant.ID)
}

func TestModeratorMirrorsBroadcastsToLists(t *testing.T) {
	ch := newFakeChannel("room/teacher")
	api := &fakeAPI{session: &models.Session{JoinMode: models.JoinModeApproval}}
	NewModerator(ch, api, fakeCreds{}, uuid.New(), nil)

	alice := models.Participant{ID: "room/alice", Name: "alice"}
	ch.deliver(signaling.AskToJoinFrame{From: "room/alice", Participant: alice})
	ch.deliver(signaling.AcceptedFrame{From: "room/teacher", Participant: alice})
	ch.deliver(signaling.RejectedFrame{From: "room/teacher", Participant: alice})
	ch.deliver(signaling.KickedFrame{From: "room/teacher", Participant: alice})

	require.Eventually(t, func() bool {
		return len(api.opsLog()) == 4
	}, time.Second, 5*time.Millisecond)

	calls := api.calls()
	assert.Equal(t, []string{"room/alice"}, calls.askAdded)
	assert.Equal(t, []string{"room/alice"}, calls.discussionAdded)
	assert.Equal(t, []string{"room/alice"}, calls.askRemoved)
	assert.Equal(t, []string{"room/alice"}, calls.discussionRemoved)
	// Mutations land in the order the broadcasts arrived.
	assert.Equal(t, []string{"add_asking", "add_discussion", "remove_asking", "remove_discussion"}, api.opsLog())
}

func TestModeratorLeaveClearsBothLists(t *testing.T) {
	ch := newFakeChannel("room/teacher")
	api := &fakeAPI{session: &models.Session{JoinMode: models.JoinModeApproval}}
	NewModerator(ch, api, fakeCreds{}, uuid.New(), nil)

	ch.deliver(signaling.LeaveFrame{From: "room/alice", Participant: models.Participant{ID: "room/alice"}})

	require.Eventually(t, func() bool {
		calls := api.calls()
		return len(calls.askRemoved) == 1 && len(calls.discussionRemoved) == 1
	}, time.Second, 5*time.Millisecond)

	calls := api.calls()
	assert.Equal(t, []string{"room/alice"}, calls.askRemoved)
	assert.Equal(t, []string{"room/alice"}, calls.discussionRemoved)
}

func TestModeratorDispatchNotBlockedBySlowServer(t *testing.T) {
	ch := newFakeChannel("room/teacher")
	api := &fakeAPI{
		session: &models.Session{JoinMode: models.JoinModeApproval},
		block:   make(chan struct{}),
	}
	NewModerator(ch, api, fakeCreds{}, uuid.New(), nil)

	alice := models.Participant{ID: "room/alice", Name: "alice"}
	delivered := make(chan struct{})
	go func() {
		ch.deliver(signaling.AskToJoinFrame{From: "room/alice", Participant: alice})
		ch.deliver(signaling.AcceptedFrame{From: "room/teacher", Participant: alice})
		close(delivered)
	}()

	// Frame delivery returns while the server call is still stuck.
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("frame dispatch blocked behind a server call")
	}
	assert.Empty(t, api.calls().askAdded)

	close(api.block)
	require.Eventually(t, func() bool {
		calls := api.calls()
		return len(calls.askAdded) == 1 && len(calls.discussionAdded) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"add_asking", "add_discussion"}, api.opsLog())
}

func TestModeratorForcedModeAutoAccepts(t *testing.T) {
	ch := newFakeChannel("room/teacher")
	pending := models.Participant{ID: "room/alice", Name: "alice"}
	api := &fakeAPI{session: &models.Session{
		JoinMode:     models.JoinModeForced,
		AskingToJoin: []models.Participant{pending},
	}}
	m := NewModerator(ch, api, fakeCreds{}, uuid.New(), nil)

	require.NoError(t, m.Join(context.Background()))

	// The pending asker is accepted on join.
	sent := ch.sentFrames()
	require.Len(t, sent, 2)
	assert.IsType(t, signaling.AcceptFrame{}, sent[0])

	// A fresh ask is accepted immediately too.
	bob := models.Participant{ID: "room/bob", Name: "bob"}
	ch.deliver(signaling.AskToJoinFrame{From: "room/bob", Participant: bob})
	sent = ch.sentFrames()
	require.Len(t, sent, 4)
	accept, ok := sent[2].(signaling.AcceptFrame)
	require.True(t, ok)
	assert.Equal(t, "room/bob", accept.To)
}
