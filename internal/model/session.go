package model

import "time"

// Role represents the author of a context turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry of a cached conversational context.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Context is the cached sliding window for one (user, room) pair.
type Context struct {
	Messages []Turn `json:"messages"`
}

// SessionKey identifies a (user, room) conversation.
type SessionKey struct {
	UserID string
	Room   string
}

// SessionSummary is the persisted digest of an ended session.
type SessionSummary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Room      string    `json:"room"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}
