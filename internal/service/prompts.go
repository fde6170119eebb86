package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evermind-app/evermind/internal/config"
	"github.com/evermind-app/evermind/internal/domain"
)

// PromptQuery describes the session state a prompt is selected for.
type PromptQuery struct {
	UserID       string
	IsNewSession bool
	TimeGap      time.Duration
	Emotion      string
}

// triggerRule maps a predicate to the trigger it resolves. Rules are
// evaluated top-down; the first match wins.
type triggerRule struct {
	trigger domain.TriggerType
	matches func(q PromptQuery, sessionCount int64) bool
}

var triggerRules = []triggerRule{
	{domain.TriggerFirstTime, func(q PromptQuery, sessionCount int64) bool {
		return q.IsNewSession && sessionCount <= 1
	}},
	{domain.TriggerNewDay, func(q PromptQuery, sessionCount int64) bool {
		return q.IsNewSession
	}},
	{domain.TriggerGapReconnect, func(q PromptQuery, sessionCount int64) bool {
		return !q.IsNewSession && q.TimeGap > config.ReconnectGap
	}},
	{domain.TriggerEmotionDetected, func(q PromptQuery, sessionCount int64) bool {
		return q.Emotion != ""
	}},
}

// PromptSelector resolves which, if any, contextual system prompt should
// open the next companion reply.
type PromptSelector struct {
	sessions domain.SessionStore
	prompts  domain.PromptStore
}

func NewPromptSelector(sessions domain.SessionStore, prompts domain.PromptStore) *PromptSelector {
	return &PromptSelector{sessions: sessions, prompts: prompts}
}

// Select returns the prompt content for the first matching trigger, or ""
// when no rule matches or no prompt is registered for the resolved trigger.
func (s *PromptSelector) Select(ctx context.Context, q PromptQuery) (string, error) {
	sessionCount, err := s.sessions.CountByUser(ctx, q.UserID)
	if err != nil {
		return "", fmt.Errorf("count sessions: %w", err)
	}

	for _, rule := range triggerRules {
		if !rule.matches(q, sessionCount) {
			continue
		}
		if rule.trigger == domain.TriggerEmotionDetected {
			return s.emotionPrompt(ctx, q.Emotion)
		}
		return s.triggerPrompt(ctx, rule.trigger)
	}
	return "", nil
}

func (s *PromptSelector) triggerPrompt(ctx context.Context, trigger domain.TriggerType) (string, error) {
	prompt, err := s.prompts.FirstActiveByTrigger(ctx, trigger)
	if err != nil {
		if errors.Is(err, domain.ErrPromptNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("prompt for %s: %w", trigger, err)
	}
	return prompt.Content, nil
}

// emotionPrompt prefers the prompt conditioned on the specific emotion and
// falls back to the generic emotion_detected prompt.
func (s *PromptSelector) emotionPrompt(ctx context.Context, emotion string) (string, error) {
	prompt, err := s.prompts.FirstActiveByEmotion(ctx, emotion)
	if err == nil {
		return prompt.Content, nil
	}
	if !errors.Is(err, domain.ErrPromptNotFound) {
		return "", fmt.Errorf("prompt for emotion %q: %w", emotion, err)
	}
	return s.triggerPrompt(ctx, domain.TriggerEmotionDetected)
}
