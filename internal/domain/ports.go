package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LLMMessage is one entry of the context window sent to the provider.
type LLMMessage struct {
	Role    Role
	Content string
}

// TokenUsage is the usage triple reported by the provider for one call.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Completion is the provider's reply to one chat call.
type Completion struct {
	Content string
	Usage   TokenUsage
}

// LLMClient defines how the core talks to the model provider.
type LLMClient interface {
	Complete(ctx context.Context, model string, messages []LLMMessage, maxTokens int) (*Completion, error)
}

// SessionStore persists sessions and their messages.
type SessionStore interface {
	// LatestActive returns the user's most recently active open session,
	// or ErrSessionNotFound.
	LatestActive(ctx context.Context, userID string) (*Session, error)
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Touch advances last_active on an open session.
	Touch(ctx context.Context, id string, lastActive time.Time) error
	// Close marks a session inactive and stamps session_end.
	Close(ctx context.Context, id string, endedAt time.Time) error
	SetSummary(ctx context.Context, id string, summary string) error
	CountByUser(ctx context.Context, userID string) (int64, error)
	AppendMessage(ctx context.Context, msg *Message) error
	// Messages returns the most recent limit messages ordered by created_at
	// ascending; limit <= 0 returns all of them.
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// UsageStore persists the token ledger and its rollups. All numeric
// mutations are atomic field-level increments, never read-modify-write.
type UsageStore interface {
	// PutTransaction creates or overwrites a transaction (last-write-wins).
	PutTransaction(ctx context.Context, tx *Transaction) error
	// UpsertSubcall overwrites any prior subcall of the same type.
	UpsertSubcall(ctx context.Context, sub *Subcall) error
	// AddTransactionTotals increments the transaction's running totals.
	AddTransactionTotals(ctx context.Context, userID, txID string, promptTokens, completionTokens, totalTokens int64, cost decimal.Decimal) error
	// FinalizeTransaction marks the transaction completed, with an optional
	// error message.
	FinalizeTransaction(ctx context.Context, userID, txID, errMsg string, at time.Time) error
	Transaction(ctx context.Context, userID, txID string) (*Transaction, error)
	Subcalls(ctx context.Context, userID, txID string) ([]Subcall, error)

	AddUserUsage(ctx context.Context, userID string, d UsageDelta) error
	AddGlobalUsage(ctx context.Context, userID string, d UsageDelta) error
	UserUsage(ctx context.Context, userID string) (*UserUsage, error)
	MonthlySummary(ctx context.Context, month string) (*MonthlySummary, error)
}

// PromptStore is the read-only query surface over contextual prompts.
// Prompts are written by an external admin surface.
type PromptStore interface {
	// FirstActiveByTrigger returns the first active prompt for the trigger
	// with no emotion condition, in insertion order, or ErrPromptNotFound.
	FirstActiveByTrigger(ctx context.Context, trigger TriggerType) (*ContextualPrompt, error)
	// FirstActiveByEmotion returns the first active emotion_detected prompt
	// conditioned on the given emotion, or ErrPromptNotFound.
	FirstActiveByEmotion(ctx context.Context, emotion string) (*ContextualPrompt, error)
}
