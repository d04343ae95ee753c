package models

import "time"

// ChatKind distinguishes freshly broadcast messages from replayed history.
type ChatKind string

const (
	ChatLive    ChatKind = "LIVE"
	ChatHistory ChatKind = "HISTORY"
)

// ChatMessage is one entry in the session transcript. History messages carry
// the original send time from the replay; live messages use arrival time.
type ChatMessage struct {
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
	Kind    ChatKind  `json:"kind"`
}
