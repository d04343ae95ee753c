package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddParticipantIsIdempotent(t *testing.T) {
	list := []Participant{{ID: "room/alice", Name: "alice"}}

	list = AddParticipant(list, Participant{ID: "room/bob", Name: "bob"})
	assert.Len(t, list, 2)

	// Same id again changes nothing, including order.
	list = AddParticipant(list, Participant{ID: "room/bob", Name: "bob renamed"})
	assert.Len(t, list, 2)
	assert.Equal(t, "bob", list[1].Name)
}

func TestRemoveParticipant(t *testing.T) {
	list := []Participant{
		{ID: "room/alice"},
		{ID: "room/bob"},
		{ID: "room/carol"},
	}

	list = RemoveParticipant(list, "room/bob")
	assert.Equal(t, []Participant{{ID: "room/alice"}, {ID: "room/carol"}}, list)

	// Removing an absent id is a no-op.
	list = RemoveParticipant(list, "room/bob")
	assert.Len(t, list, 2)
}

func TestMoveParticipantKeepsListsDisjoint(t *testing.T) {
	alice := Participant{ID: "room/alice", Name: "alice"}
	asking := []Participant{alice}
	discussion := []Participant{{ID: "room/bob"}}

	// Accepting alice moves her out of the asking list.
	discussion, asking = MoveParticipant(discussion, asking, alice)
	assert.Equal(t, []Participant{{ID: "room/bob"}, alice}, discussion)
	assert.Empty(t, asking)

	// A re-ask moves her back; she is never in both lists.
	asking, discussion = MoveParticipant(asking, discussion, alice)
	assert.Equal(t, []Participant{alice}, asking)
	assert.Equal(t, []Participant{{ID: "room/bob"}}, discussion)

	// Duplicate delivery of the same move changes nothing.
	asking, discussion = MoveParticipant(asking, discussion, alice)
	assert.Equal(t, []Participant{alice}, asking)
	assert.Equal(t, []Participant{{ID: "room/bob"}}, discussion)
}

func TestSessionListMembership(t *testing.T) {
	s := Session{
		AskingToJoin: []Participant{{ID: "room/alice"}},
		InDiscussion: []Participant{{ID: "room/bob"}},
	}

	assert.True(t, s.Asking("room/alice"))
	assert.False(t, s.Asking("room/bob"))
	assert.True(t, s.OnStage("room/bob"))
	assert.False(t, s.OnStage("room/alice"))
}
