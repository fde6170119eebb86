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

var continuityBase = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

func newTestContinuity(store *memory.Store) *ContinuityService {
	selector := NewPromptSelector(store, store)
	svc := NewContinuityService(store, selector, time.UTC)
	svc.now = func() time.Time { return continuityBase }
	return svc
}

func TestFirstMessageOpensSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)
	store.SeedPrompt(domain.TriggerFirstTime, "", "welcome aboard", true)

	res, err := svc.ResumeOrCreate(ctx, "u1", "hello", "")
	if err != nil {
		t.Fatalf("ResumeOrCreate failed: %v", err)
	}
	if !res.IsNewSession {
		t.Fatal("first message should open a new session")
	}
	if res.TimeGap != 0 {
		t.Fatalf("time gap = %v, want 0", res.TimeGap)
	}
	if res.PromptHint != "welcome aboard" {
		t.Fatalf("prompt hint = %q, want first-time prompt", res.PromptHint)
	}

	msgs, err := store.Messages(ctx, res.Session.ID, 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("stored messages = %+v, want the single user message", msgs)
	}
}

func TestExactExpiryBoundaryResumes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)

	first, err := svc.ResumeOrCreate(ctx, "u1", "hello", "")
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// Exactly two hours of silence still resumes; the boundary is exclusive.
	svc.now = func() time.Time { return continuityBase.Add(config.SessionExpiry) }
	res, err := svc.ResumeOrCreate(ctx, "u1", "back", "")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if res.IsNewSession {
		t.Fatal("exactly SessionExpiry of silence should resume, not expire")
	}
	if res.Session.ID != first.Session.ID {
		t.Fatalf("session id changed on resume: %s -> %s", first.Session.ID, res.Session.ID)
	}
	if res.TimeGap != config.SessionExpiry {
		t.Fatalf("time gap = %v, want %v", res.TimeGap, config.SessionExpiry)
	}
}

func TestGapBeyondExpiryOpensNewSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)

	first, err := svc.ResumeOrCreate(ctx, "u1", "hello", "")
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	gap := config.SessionExpiry + time.Millisecond
	svc.now = func() time.Time { return continuityBase.Add(gap) }
	res, err := svc.ResumeOrCreate(ctx, "u1", "back", "")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if !res.IsNewSession {
		t.Fatal("silence beyond SessionExpiry should open a new session")
	}
	if res.Session.ID == first.Session.ID {
		t.Fatal("expected a fresh session id")
	}
	if res.TimeGap != gap {
		t.Fatalf("time gap = %v, want %v", res.TimeGap, gap)
	}

	old, err := store.Get(ctx, first.Session.ID)
	if err != nil {
		t.Fatalf("Get old session failed: %v", err)
	}
	if old.Active || old.SessionEnd == nil {
		t.Fatalf("old session not closed: active=%v end=%v", old.Active, old.SessionEnd)
	}
}

func TestMidnightRolloverExpiresDespiteShortGap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)

	lateNight := time.Date(2025, 6, 10, 23, 59, 59, 0, time.UTC)
	svc.now = func() time.Time { return lateNight }
	first, err := svc.ResumeOrCreate(ctx, "u1", "good night", "")
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// Two seconds later, but on the next calendar date.
	svc.now = func() time.Time { return time.Date(2025, 6, 11, 0, 0, 1, 0, time.UTC) }
	res, err := svc.ResumeOrCreate(ctx, "u1", "good morning", "")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if !res.IsNewSession {
		t.Fatal("a date change should split the session regardless of the gap")
	}
	if res.Session.ID == first.Session.ID {
		t.Fatal("expected a fresh session after midnight")
	}
}

func TestGapReconnectHint(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)
	store.SeedPrompt(domain.TriggerGapReconnect, "", "welcome back", true)

	if _, err := svc.ResumeOrCreate(ctx, "u1", "hello", ""); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// 90 minutes: inside the session window, past the reconnect threshold.
	svc.now = func() time.Time { return continuityBase.Add(90 * time.Minute) }
	res, err := svc.ResumeOrCreate(ctx, "u1", "still there?", "")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if res.IsNewSession {
		t.Fatal("90 minutes should resume the session")
	}
	if res.PromptHint != "welcome back" {
		t.Fatalf("prompt hint = %q, want gap-reconnect prompt", res.PromptHint)
	}
}

func TestEmotionInvokesSelectorOnResume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)
	store.SeedPrompt(domain.TriggerEmotionDetected, "sad", "gentle check-in", true)

	if _, err := svc.ResumeOrCreate(ctx, "u1", "hello", ""); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	svc.now = func() time.Time { return continuityBase.Add(5 * time.Minute) }
	res, err := svc.ResumeOrCreate(ctx, "u1", "rough day", "sad")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if res.IsNewSession {
		t.Fatal("5 minutes should resume the session")
	}
	if res.PromptHint != "gentle check-in" {
		t.Fatalf("prompt hint = %q, want emotion prompt", res.PromptHint)
	}
}

func TestShortResumeSkipsSelector(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)
	store.SeedPrompt(domain.TriggerNewDay, "", "fresh start", true)

	if _, err := svc.ResumeOrCreate(ctx, "u1", "hello", ""); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	svc.now = func() time.Time { return continuityBase.Add(5 * time.Minute) }
	res, err := svc.ResumeOrCreate(ctx, "u1", "one more thing", "")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if res.PromptHint != "" {
		t.Fatalf("prompt hint = %q, want none on a quick resume", res.PromptHint)
	}
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)

	res, err := svc.ResumeOrCreate(ctx, "u1", "hello", "")
	if err != nil {
		t.Fatalf("ResumeOrCreate failed: %v", err)
	}

	session, err := svc.End(ctx, "u1", res.Session.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if session.Active || session.SessionEnd == nil {
		t.Fatalf("session not closed: active=%v end=%v", session.Active, session.SessionEnd)
	}

	stored, err := store.Get(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Active {
		t.Fatal("stored session still active after End")
	}
}

func TestEndSessionWrongUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestContinuity(store)

	res, err := svc.ResumeOrCreate(ctx, "u1", "hello", "")
	if err != nil {
		t.Fatalf("ResumeOrCreate failed: %v", err)
	}

	if _, err := svc.End(ctx, "u2", res.Session.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("End by another user = %v, want ErrForbidden", err)
	}
}

func TestEndSessionNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestContinuity(memory.NewStore())

	if _, err := svc.End(ctx, "u1", "no-such-id"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("End unknown conversation = %v, want ErrSessionNotFound", err)
	}
}
