package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the root of one LLM-usage accounting unit, typically one
// user turn. Running totals are incremented by every subcall recording.
type Transaction struct {
	UserID                string
	ID                    string
	Type                  string
	Model                 string
	Month                 string // YYYY-MM at creation time
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TotalTokens           int64
	EstimatedCost         decimal.Decimal
	Completed             bool
	Error                 string
	CreatedAt             time.Time
	CompletedAt           *time.Time
}

// Subcall is one LLM invocation inside a transaction, keyed by its type
// (primary_call, emotion_analysis, summary_generation, ...). Recording the
// same type twice overwrites the row.
type Subcall struct {
	UserID           string
	TransactionID    string
	Type             string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Model            string
	EstimatedCost    decimal.Decimal
	RecordedAt       time.Time
}

// UsageDelta carries the bucket keys and amounts of one subcall recording
// into the per-user and global rollups.
type UsageDelta struct {
	Month            string
	Model            string
	Source           string
	Hour             int // 0..23
	Weekday          int // 0 = Sunday .. 6 = Saturday
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Cost             decimal.Decimal
	At               time.Time
}

// UsageBucket is one monotonically increasing counter pair.
type UsageBucket struct {
	Tokens int64
	Cost   decimal.Decimal
}

// UserUsage is the per-user rollup. All counters only ever grow.
type UserUsage struct {
	UserID            string
	LifetimeTokens    int64
	LifetimeCost      decimal.Decimal
	LegacyTotalTokens int64 // kept for pre-ledger clients
	Monthly           map[string]UsageBucket
	ByModel           map[string]UsageBucket
	BySource          map[string]UsageBucket
	ByHour            map[string]UsageBucket // "0".."23"
	ByDay             map[string]UsageBucket // "0".."6", Sunday first
	LastAPICall       time.Time
	UpdatedAt         time.Time
}

// MonthlySummary aggregates usage across all users for one month.
type MonthlySummary struct {
	Month       string
	Users       map[string]UsageBucket
	Models      map[string]UsageBucket
	Sources     map[string]UsageBucket
	TotalTokens int64
	TotalCost   decimal.Decimal
	UpdatedAt   time.Time
}
