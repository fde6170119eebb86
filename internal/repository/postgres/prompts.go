package postgres

import (
	"context"
	"fmt"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (s *Store) FirstActiveByTrigger(ctx context.Context, trigger domain.TriggerType) (*domain.ContextualPrompt, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, trigger_type, COALESCE(emotion, ''), content, active, created_at
		FROM contextual_prompts
		WHERE trigger_type = $1 AND active AND emotion IS NULL
		ORDER BY id ASC
		LIMIT 1`, string(trigger))
	return scanPrompt(row)
}

func (s *Store) FirstActiveByEmotion(ctx context.Context, emotion string) (*domain.ContextualPrompt, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, trigger_type, COALESCE(emotion, ''), content, active, created_at
		FROM contextual_prompts
		WHERE trigger_type = $1 AND active AND emotion = $2
		ORDER BY id ASC
		LIMIT 1`, string(domain.TriggerEmotionDetected), emotion)
	return scanPrompt(row)
}

func scanPrompt(row pgx.Row) (*domain.ContextualPrompt, error) {
	var p domain.ContextualPrompt
	var trigger string
	err := row.Scan(&p.ID, &trigger, &p.Emotion, &p.Content, &p.Active, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPromptNotFound
		}
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	p.Trigger = domain.TriggerType(trigger)
	return &p, nil
}
