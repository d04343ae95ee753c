package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/coordinator/internal/models"
)

var now = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func TestDecodeAskToJoin(t *testing.T) {
	raw := []byte(`{"type":"groupchat","event":"PARTICIPANT_ASK_TO_JOIN","from":"room/alice","participant":{"id":"room/alice","name":"Alice"}}`)

	frame := Decode(raw, now)

	ask, ok := frame.(AskToJoinFrame)
	require.True(t, ok, "expected AskToJoinFrame, got %T", frame)
	assert.Equal(t, "room/alice", ask.From)
	assert.Equal(t, models.Participant{ID: "room/alice", Name: "Alice"}, ask.Participant)
}

func TestDecodeAcceptCarriesStageCredentials(t *testing.T) {
	raw := []byte(`{"type":"event","event":"ACCEPT","from":"room/mod","to":"room/alice","jitsi":{"room":"stage-42","token":"tok","domain":"meet.example.org"}}`)

	frame := Decode(raw, now)

	accept, ok := frame.(AcceptFrame)
	require.True(t, ok, "expected AcceptFrame, got %T", frame)
	assert.Equal(t, "room/alice", accept.To)
	assert.Equal(t, "stage-42", accept.Stage.Room)
	assert.Equal(t, "tok", accept.Stage.Token)
}

func TestDecodeLiveChatUsesArrivalTime(t *testing.T) {
	raw := []byte(`{"type":"groupchat","from":"room/bob","body":"hello"}`)

	frame := Decode(raw, now)

	msg, ok := frame.(ChatFrame)
	require.True(t, ok)
	assert.False(t, msg.History)
	assert.Equal(t, now, msg.SentAt)
}

func TestDecodeHistoryChatUsesDelayTimestamp(t *testing.T) {
	sent := now.Add(-10 * time.Minute)
	raw := []byte(`{"type":"groupchat","from":"room/bob","body":"earlier","delay":"` + sent.Format(time.RFC3339) + `"}`)

	frame := Decode(raw, now)

	msg, ok := frame.(ChatFrame)
	require.True(t, ok)
	assert.True(t, msg.History)
	assert.True(t, msg.SentAt.Equal(sent))
}

func TestDecodePresence(t *testing.T) {
	raw := []byte(`{"type":"presence","from":"room/mod","presence":{"kind":"available","name":"Prof","affiliation":"owner"}}`)

	frame := Decode(raw, now)

	p, ok := frame.(PresenceFrame)
	require.True(t, ok)
	assert.Equal(t, PresenceAvailable, p.Kind)
	assert.Equal(t, "owner", p.Affiliation)
}

func TestDecodeUnrecognized(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type":`},
		{"unknown type", `{"type":"wat"}`},
		{"unknown event", `{"type":"event","event":"EXPLODE"}`},
		{"groupchat without body", `{"type":"groupchat","from":"room/bob"}`},
		{"ask without participant", `{"type":"groupchat","event":"PARTICIPANT_ASK_TO_JOIN","from":"room/x"}`},
		{"accept with bad credentials", `{"type":"event","event":"ACCEPT","to":"room/x","jitsi":"notanobject"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := Decode([]byte(tc.raw), now)
			_, ok := frame.(UnrecognizedFrame)
			assert.True(t, ok, "expected UnrecognizedFrame, got %T", frame)
		})
	}
}

func TestDecodeLeaveWithoutParticipantFallsBackToSender(t *testing.T) {
	raw := []byte(`{"type":"groupchat","event":"LEAVE","from":"room/ghost"}`)

	frame := Decode(raw, now)

	leave, ok := frame.(LeaveFrame)
	require.True(t, ok)
	assert.Equal(t, "room/ghost", leave.Participant.ID)
}

func TestEncodeDecodeCommandFrames(t *testing.T) {
	p := models.Participant{ID: "room/alice", Name: "Alice"}
	frames := []Frame{
		AskToJoinFrame{From: "room/alice", Participant: p},
		AcceptedFrame{From: "room/mod", Participant: p},
		RejectedFrame{From: "room/mod", Participant: p},
		KickedFrame{From: "room/mod", Participant: p},
		LeaveFrame{From: "room/alice", Participant: p},
		RejectFrame{From: "room/mod", To: "room/alice"},
		KickFrame{From: "room/mod", To: "room/alice"},
	}
	for _, f := range frames {
		raw, err := Encode(f)
		require.NoError(t, err)
		assert.Equal(t, f, Decode(raw, now))
	}
}

func TestEncodeHistoryCompleteRoundTrip(t *testing.T) {
	raw, err := Encode(HistoryCompleteFrame{})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.True(t, env.EndOfReplay)
	assert.Equal(t, HistoryCompleteFrame{}, Decode(raw, now))
}
