package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evermind-app/evermind/internal/domain"
)

const monthLayout = "2006-01"

// Ledger manages the lifecycle of a usage transaction and the rollups its
// subcall recordings fan out to. Callers treat every operation as
// best-effort telemetry: errors are returned for logging, never retried.
type Ledger struct {
	store domain.UsageStore
	loc   *time.Location
	now   func() time.Time
}

func NewLedger(store domain.UsageStore, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{store: store, loc: loc, now: time.Now}
}

// Initialize creates the transaction with zeroed totals. Calling it again
// for the same id resets the transaction (last-write-wins).
func (l *Ledger) Initialize(ctx context.Context, userID, txID, txType, model string) error {
	now := l.now().In(l.loc)
	tx := &domain.Transaction{
		UserID:    userID,
		ID:        txID,
		Type:      txType,
		Model:     model,
		Month:     now.Format(monthLayout),
		CreatedAt: now,
	}
	if err := l.store.PutTransaction(ctx, tx); err != nil {
		return fmt.Errorf("initialize transaction %s: %w", txID, err)
	}
	return nil
}

// RecordSubcall upserts the subcall record, increments the transaction's
// running totals, and fans out to the per-user and global rollups.
//
// The totals increment happens unconditionally, even when the upsert
// replaced an earlier recording of the same subcall type; a duplicate type
// therefore double-counts in the totals while the subcall row keeps only
// the latest values.
func (l *Ledger) RecordSubcall(ctx context.Context, userID, txID, subcallType, model string, usage domain.TokenUsage) error {
	now := l.now().In(l.loc)
	cost := Cost(model, usage.PromptTokens, usage.CompletionTokens)

	sub := &domain.Subcall{
		UserID:           userID,
		TransactionID:    txID,
		Type:             subcallType,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Model:            model,
		EstimatedCost:    cost,
		RecordedAt:       now,
	}
	if err := l.store.UpsertSubcall(ctx, sub); err != nil {
		return fmt.Errorf("record subcall %s/%s: %w", txID, subcallType, err)
	}

	// The group below is not atomic; a failure in one write does not roll
	// back the others, and no write is ever retried.
	var errs []error

	if err := l.store.AddTransactionTotals(ctx, userID, txID,
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, cost); err != nil {
		errs = append(errs, fmt.Errorf("transaction totals %s: %w", txID, err))
	}

	delta := domain.UsageDelta{
		Month:            now.Format(monthLayout),
		Model:            model,
		Source:           subcallType,
		Hour:             now.Hour(),
		Weekday:          int(now.Weekday()),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Cost:             cost,
		At:               now,
	}
	if err := l.store.AddUserUsage(ctx, userID, delta); err != nil {
		errs = append(errs, fmt.Errorf("user rollup %s: %w", userID, err))
	}
	if err := l.store.AddGlobalUsage(ctx, userID, delta); err != nil {
		errs = append(errs, fmt.Errorf("global rollup %s: %w", delta.Month, err))
	}

	return errors.Join(errs...)
}

// Finalize marks the transaction completed, optionally with the error that
// ended the turn.
func (l *Ledger) Finalize(ctx context.Context, userID, txID, errMsg string) error {
	if err := l.store.FinalizeTransaction(ctx, userID, txID, errMsg, l.now().In(l.loc)); err != nil {
		return fmt.Errorf("finalize transaction %s: %w", txID, err)
	}
	return nil
}
