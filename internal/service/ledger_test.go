package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evermind-app/evermind/internal/config"
	"github.com/evermind-app/evermind/internal/domain"
	"github.com/evermind-app/evermind/internal/repository/memory"
)

// Saturday afternoon, so hour and weekday buckets are unambiguous.
var ledgerNow = time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *memory.Store) {
	store := memory.NewStore()
	ledger := NewLedger(store, time.UTC)
	ledger.now = func() time.Time { return ledgerNow }
	return ledger, store
}

func usage(prompt, completion int64) domain.TokenUsage {
	return domain.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func TestDistinctSubcallsSumToTransactionTotals(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	if err := ledger.Initialize(ctx, "u1", "tx1", config.TxTypeCompanionChat, "gpt-4o"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ledger.RecordSubcall(ctx, "u1", "tx1", config.SubcallPrimary, "gpt-4o", usage(100, 50)); err != nil {
		t.Fatalf("RecordSubcall primary failed: %v", err)
	}
	if err := ledger.RecordSubcall(ctx, "u1", "tx1", config.SubcallEmotion, "gpt-4o", usage(10, 5)); err != nil {
		t.Fatalf("RecordSubcall emotion failed: %v", err)
	}

	tx, err := store.Transaction(ctx, "u1", "tx1")
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	subs, err := store.Subcalls(ctx, "u1", "tx1")
	if err != nil {
		t.Fatalf("Subcalls failed: %v", err)
	}

	var sumTokens int64
	for _, sub := range subs {
		sumTokens += sub.TotalTokens
	}
	if tx.TotalTokens != sumTokens {
		t.Fatalf("transaction TotalTokens = %d, want sum of subcalls %d", tx.TotalTokens, sumTokens)
	}
	if tx.TotalPromptTokens != 110 || tx.TotalCompletionTokens != 55 || tx.TotalTokens != 165 {
		t.Fatalf("transaction totals = %d/%d/%d, want 110/55/165",
			tx.TotalPromptTokens, tx.TotalCompletionTokens, tx.TotalTokens)
	}
}

func TestSameSubcallTypeDoubleCounts(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	if err := ledger.Initialize(ctx, "u1", "tx1", config.TxTypeCompanionChat, "gpt-4o"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ledger.RecordSubcall(ctx, "u1", "tx1", config.SubcallPrimary, "gpt-4o", usage(100, 50)); err != nil {
		t.Fatalf("first recording failed: %v", err)
	}
	if err := ledger.RecordSubcall(ctx, "u1", "tx1", config.SubcallPrimary, "gpt-4o", usage(7, 3)); err != nil {
		t.Fatalf("second recording failed: %v", err)
	}

	subs, err := store.Subcalls(ctx, "u1", "tx1")
	if err != nil {
		t.Fatalf("Subcalls failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("subcall count = %d, want 1 (same type overwrites)", len(subs))
	}
	if subs[0].PromptTokens != 7 || subs[0].CompletionTokens != 3 {
		t.Fatalf("subcall tokens = %d/%d, want the second recording 7/3",
			subs[0].PromptTokens, subs[0].CompletionTokens)
	}

	// The running totals count both recordings. Known divergence, asserted
	// deliberately rather than "fixed".
	tx, err := store.Transaction(ctx, "u1", "tx1")
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if tx.TotalPromptTokens != 107 || tx.TotalCompletionTokens != 53 || tx.TotalTokens != 160 {
		t.Fatalf("transaction totals = %d/%d/%d, want double-counted 107/53/160",
			tx.TotalPromptTokens, tx.TotalCompletionTokens, tx.TotalTokens)
	}
	wantCost := Cost("gpt-4o", 100, 50).Add(Cost("gpt-4o", 7, 3))
	if !tx.EstimatedCost.Equal(wantCost) {
		t.Fatalf("transaction cost = %s, want %s", tx.EstimatedCost, wantCost)
	}
}

func TestRecordSubcallFansOutToRollups(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	if err := ledger.Initialize(ctx, "u1", "tx1", config.TxTypeCompanionChat, "gpt-4o"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ledger.RecordSubcall(ctx, "u1", "tx1", config.SubcallPrimary, "gpt-4o", usage(1000, 500)); err != nil {
		t.Fatalf("RecordSubcall failed: %v", err)
	}

	wantCost := Cost("gpt-4o", 1000, 500)

	user, err := store.UserUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("UserUsage failed: %v", err)
	}
	if user.LifetimeTokens != 1500 {
		t.Fatalf("lifetime tokens = %d, want 1500", user.LifetimeTokens)
	}
	if !user.LifetimeCost.Equal(wantCost) {
		t.Fatalf("lifetime cost = %s, want %s", user.LifetimeCost, wantCost)
	}
	if user.LegacyTotalTokens != 1500 {
		t.Fatalf("legacy tokens = %d, want 1500", user.LegacyTotalTokens)
	}
	if got := user.Monthly["2025-03"].Tokens; got != 1500 {
		t.Fatalf("monthly tokens = %d, want 1500", got)
	}
	if got := user.ByModel["gpt-4o"].Tokens; got != 1500 {
		t.Fatalf("by_model tokens = %d, want 1500", got)
	}
	if got := user.BySource[config.SubcallPrimary].Tokens; got != 1500 {
		t.Fatalf("by_source tokens = %d, want 1500", got)
	}
	if got := user.ByHour["14"].Tokens; got != 1500 {
		t.Fatalf("by_hour[14] tokens = %d, want 1500", got)
	}
	if got := user.ByDay["6"].Tokens; got != 1500 {
		t.Fatalf("by_day[6] tokens = %d, want 1500 (2025-03-15 is a Saturday)", got)
	}
	if !user.LastAPICall.Equal(ledgerNow) {
		t.Fatalf("last api call = %v, want %v", user.LastAPICall, ledgerNow)
	}

	summary, err := store.MonthlySummary(ctx, "2025-03")
	if err != nil {
		t.Fatalf("MonthlySummary failed: %v", err)
	}
	if summary.TotalTokens != 1500 {
		t.Fatalf("summary total tokens = %d, want 1500", summary.TotalTokens)
	}
	if !summary.TotalCost.Equal(wantCost) {
		t.Fatalf("summary total cost = %s, want %s", summary.TotalCost, wantCost)
	}
	if got := summary.Users["u1"].Tokens; got != 1500 {
		t.Fatalf("summary users[u1] tokens = %d, want 1500", got)
	}
	if got := summary.Models["gpt-4o"].Tokens; got != 1500 {
		t.Fatalf("summary models tokens = %d, want 1500", got)
	}
	if got := summary.Sources[config.SubcallPrimary].Tokens; got != 1500 {
		t.Fatalf("summary sources tokens = %d, want 1500", got)
	}
}

func TestReinitializeResetsTransaction(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	if err := ledger.Initialize(ctx, "u1", "tx1", config.TxTypeCompanionChat, "gpt-4o"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ledger.RecordSubcall(ctx, "u1", "tx1", config.SubcallPrimary, "gpt-4o", usage(100, 50)); err != nil {
		t.Fatalf("RecordSubcall failed: %v", err)
	}
	if err := ledger.Initialize(ctx, "u1", "tx1", config.TxTypeCompanionChat, "gpt-4o"); err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}

	tx, err := store.Transaction(ctx, "u1", "tx1")
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if tx.TotalTokens != 0 || !tx.EstimatedCost.IsZero() || tx.Completed {
		t.Fatalf("re-initialized transaction not reset: tokens=%d cost=%s completed=%v",
			tx.TotalTokens, tx.EstimatedCost, tx.Completed)
	}
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	if err := ledger.Initialize(ctx, "u1", "tx1", config.TxTypeCompanionChat, "gpt-4o"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := ledger.Finalize(ctx, "u1", "tx1", "provider timeout"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	tx, err := store.Transaction(ctx, "u1", "tx1")
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if !tx.Completed {
		t.Fatal("transaction not marked completed")
	}
	if tx.Error != "provider timeout" {
		t.Fatalf("transaction error = %q, want %q", tx.Error, "provider timeout")
	}
	if tx.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
}

func TestRecordSubcallWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	err := ledger.RecordSubcall(ctx, "u1", "missing", config.SubcallPrimary, "gpt-4o", usage(10, 5))
	if err == nil {
		t.Fatal("expected error recording against a missing transaction")
	}
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("error = %v, want ErrTransactionNotFound", err)
	}

	// The group is not atomic: the subcall row and rollups land anyway.
	subs, err := store.Subcalls(ctx, "u1", "missing")
	if err != nil {
		t.Fatalf("Subcalls failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("subcall count = %d, want 1", len(subs))
	}
	if _, err := store.UserUsage(ctx, "u1"); err != nil {
		t.Fatalf("user rollup missing after partial failure: %v", err)
	}
}
