package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evermind-app/evermind/internal/config"
	"github.com/evermind-app/evermind/internal/domain"
	"github.com/google/uuid"
)

// ContinuityResult is the outcome of resolving one incoming message against
// the user's session state.
type ContinuityResult struct {
	Session      *domain.Session
	IsNewSession bool
	TimeGap      time.Duration
	PromptHint   string
}

// ContinuityService decides whether an incoming message resumes the user's
// open session or closes it and starts a new one.
//
// The latest-active read and the follow-up writes are not transactional;
// two concurrent turns for one user can both judge the open session expired
// and each open a new one. Accepted tradeoff.
type ContinuityService struct {
	store    domain.SessionStore
	selector *PromptSelector
	loc      *time.Location
	now      func() time.Time
}

func NewContinuityService(store domain.SessionStore, selector *PromptSelector, loc *time.Location) *ContinuityService {
	if loc == nil {
		loc = time.Local
	}
	return &ContinuityService{
		store:    store,
		selector: selector,
		loc:      loc,
		now:      time.Now,
	}
}

// ResumeOrCreate resolves the session for an incoming user message, appends
// the message under it, and asks the prompt selector for an opener when the
// session is new, the user went quiet for a while, or the message carries
// an emotion label.
func (s *ContinuityService) ResumeOrCreate(ctx context.Context, userID, text, emotion string) (*ContinuityResult, error) {
	now := s.now().In(s.loc)

	var (
		session      *domain.Session
		isNewSession bool
		timeGap      time.Duration
	)

	current, err := s.store.LatestActive(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		session, err = s.open(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		isNewSession = true

	case err != nil:
		return nil, fmt.Errorf("resolve session: %w", err)

	case s.expired(current.LastActive, now):
		timeGap = now.Sub(current.LastActive)
		if err := s.store.Close(ctx, current.ID, now); err != nil {
			return nil, fmt.Errorf("close expired session: %w", err)
		}
		session, err = s.open(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		isNewSession = true

	default:
		timeGap = now.Sub(current.LastActive)
		if err := s.store.Touch(ctx, current.ID, now); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		current.LastActive = now
		session = current
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: session.ID,
		Role:           domain.RoleUser,
		Content:        text,
		Emotion:        emotion,
		CreatedAt:      now,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	result := &ContinuityResult{
		Session:      session,
		IsNewSession: isNewSession,
		TimeGap:      timeGap,
	}

	if isNewSession || timeGap > config.ReconnectGap || emotion != "" {
		hint, err := s.selector.Select(ctx, PromptQuery{
			UserID:       userID,
			IsNewSession: isNewSession,
			TimeGap:      timeGap,
			Emotion:      emotion,
		})
		if err != nil {
			// A failed prompt lookup falls back to the default prompt.
			slog.Error("contextual prompt selection failed", "user_id", userID, "error", err)
		}
		result.PromptHint = hint
	}

	return result, nil
}

// End closes a session unconditionally, independent of the time-based
// rules. The caller must own the session.
func (s *ContinuityService) End(ctx context.Context, userID, conversationID string) (*domain.Session, error) {
	session, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, domain.ErrForbidden
	}

	now := s.now().In(s.loc)
	if err := s.store.Close(ctx, conversationID, now); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	session.Active = false
	session.SessionEnd = &now
	return session, nil
}

func (s *ContinuityService) open(ctx context.Context, userID string, now time.Time) (*domain.Session, error) {
	session := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionStart: now,
		LastActive:   now,
		Active:       true,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// expired reports whether a session last active at lastActive is over when
// a message arrives at now. The gap boundary is exclusive: exactly
// SessionExpiry of silence still resumes. A local calendar date change
// expires the session regardless of the gap, so a conversation straddling
// midnight splits even minutes apart.
func (s *ContinuityService) expired(lastActive, now time.Time) bool {
	if now.Sub(lastActive) > config.SessionExpiry {
		return true
	}
	y1, m1, d1 := lastActive.In(s.loc).Date()
	y2, m2, d2 := now.In(s.loc).Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}
