package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, user_id, session_start, last_active, session_end, active, COALESCE(summary, '')`

func (s *Store) LatestActive(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM conversations
		WHERE user_id = $1 AND active
		ORDER BY last_active DESC
		LIMIT 1`, userID)

	session, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("latest active session: %w", err)
	}
	return session, nil
}

func (s *Store) Create(ctx context.Context, session *domain.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, user_id, session_start, last_active, session_end, active, summary)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		session.ID, session.UserID, session.SessionStart, session.LastActive,
		session.SessionEnd, session.Active, session.Summary)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM conversations
		WHERE id = $1`, id)

	session, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) Touch(ctx context.Context, id string, lastActive time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET last_active = $2 WHERE id = $1`, id, lastActive)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) Close(ctx context.Context, id string, endedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET active = FALSE, session_end = $2 WHERE id = $1`, id, endedAt)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) SetSummary(ctx context.Context, id string, summary string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET summary = $2 WHERE id = $1`, id, summary)
	if err != nil {
		return fmt.Errorf("set session summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, emotion, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.Emotion, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, COALESCE(emotion, ''), created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`
	args := []any{conversationID}
	if limit > 0 {
		// Keep the most recent messages but hand them back in order.
		query = `
		SELECT id, conversation_id, role, content, COALESCE(emotion, ''), created_at
		FROM (
			SELECT id, conversation_id, role, content, emotion, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Emotion, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.SessionStart, &sess.LastActive,
		&sess.SessionEnd, &sess.Active, &sess.Summary); err != nil {
		return nil, err
	}
	return &sess, nil
}
