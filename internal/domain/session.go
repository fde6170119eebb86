package domain

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is one bounded period of conversation between a user and the
// companion. At most one session per user is active at a time; this is
// enforced by the continuity service, not by the schema.
type Session struct {
	ID           string
	UserID       string
	SessionStart time.Time
	LastActive   time.Time
	SessionEnd   *time.Time
	Active       bool
	Summary      string
}

// Message is one turn stored under a session. Immutable once written,
// ordered by CreatedAt ascending for context reconstruction.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	Emotion        string
	CreatedAt      time.Time
}
