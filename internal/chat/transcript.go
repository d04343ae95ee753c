// Package chat maintains the client-side transcript of a session room.
package chat

import (
	"sync"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/signaling"
)

// Transcript accumulates chat messages in arrival order. Replayed history
// lands before live traffic because the room finishes replay before
// delivering anything live; the store just appends.
type Transcript struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	subject  string
	replayed bool
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Consume feeds one inbound frame to the transcript. Non-chat frames are
// ignored, so it can be registered directly as a channel handler.
func (t *Transcript) Consume(f signaling.Frame) {
	switch v := f.(type) {
	case signaling.ChatFrame:
		kind := models.ChatLive
		if v.History {
			kind = models.ChatHistory
		}
		t.mu.Lock()
		t.messages = append(t.messages, models.ChatMessage{
			Sender:  v.From,
			Content: v.Body,
			SentAt:  v.SentAt,
			Kind:    kind,
		})
		t.mu.Unlock()
	case signaling.SubjectFrame:
		t.mu.Lock()
		t.subject = v.Subject
		t.mu.Unlock()
	case signaling.HistoryCompleteFrame:
		t.mu.Lock()
		t.replayed = true
		t.mu.Unlock()
	}
}

// Subject returns the room subject announced on join.
func (t *Transcript) Subject() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subject
}

// Messages returns a copy of the transcript in arrival order.
func (t *Transcript) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// ReplayComplete reports whether the history replay sentinel has arrived.
func (t *Transcript) ReplayComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replayed
}

// Reset clears the transcript for a reconnect; the room replays history
// again on the next join.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	t.subject = ""
	t.replayed = false
}
