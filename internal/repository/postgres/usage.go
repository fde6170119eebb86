package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) PutTransaction(ctx context.Context, tx *domain.Transaction) error {
	// Re-initialization is last-write-wins: an existing row is reset.
	_, err := s.db.Exec(ctx, `
		INSERT INTO token_transactions
			(user_id, id, tx_type, model, month,
			 total_prompt_tokens, total_completion_tokens, total_tokens, estimated_cost,
			 completed, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		ON CONFLICT (user_id, id) DO UPDATE SET
			tx_type = excluded.tx_type,
			model = excluded.model,
			month = excluded.month,
			total_prompt_tokens = excluded.total_prompt_tokens,
			total_completion_tokens = excluded.total_completion_tokens,
			total_tokens = excluded.total_tokens,
			estimated_cost = excluded.estimated_cost,
			completed = excluded.completed,
			error = excluded.error,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at`,
		tx.UserID, tx.ID, tx.Type, tx.Model, tx.Month,
		tx.TotalPromptTokens, tx.TotalCompletionTokens, tx.TotalTokens, tx.EstimatedCost,
		tx.Completed, tx.Error, tx.CreatedAt, tx.CompletedAt)
	if err != nil {
		return fmt.Errorf("put transaction: %w", err)
	}
	return nil
}

func (s *Store) UpsertSubcall(ctx context.Context, sub *domain.Subcall) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO token_subcalls
			(user_id, transaction_id, subcall_type,
			 prompt_tokens, completion_tokens, total_tokens, model, estimated_cost, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, transaction_id, subcall_type) DO UPDATE SET
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			total_tokens = excluded.total_tokens,
			model = excluded.model,
			estimated_cost = excluded.estimated_cost,
			recorded_at = excluded.recorded_at`,
		sub.UserID, sub.TransactionID, sub.Type,
		sub.PromptTokens, sub.CompletionTokens, sub.TotalTokens, sub.Model,
		sub.EstimatedCost, sub.RecordedAt)
	if err != nil {
		return fmt.Errorf("upsert subcall: %w", err)
	}
	return nil
}

func (s *Store) AddTransactionTotals(ctx context.Context, userID, txID string, promptTokens, completionTokens, totalTokens int64, cost decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE token_transactions SET
			total_prompt_tokens = total_prompt_tokens + $3,
			total_completion_tokens = total_completion_tokens + $4,
			total_tokens = total_tokens + $5,
			estimated_cost = estimated_cost + $6
		WHERE user_id = $1 AND id = $2`,
		userID, txID, promptTokens, completionTokens, totalTokens, cost)
	if err != nil {
		return fmt.Errorf("add transaction totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) FinalizeTransaction(ctx context.Context, userID, txID, errMsg string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE token_transactions SET
			completed = TRUE,
			error = NULLIF($3, ''),
			completed_at = $4
		WHERE user_id = $1 AND id = $2`,
		userID, txID, errMsg, at)
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) Transaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, id, tx_type, model, month,
			total_prompt_tokens, total_completion_tokens, total_tokens, estimated_cost,
			completed, COALESCE(error, ''), created_at, completed_at
		FROM token_transactions
		WHERE user_id = $1 AND id = $2`, userID, txID)

	var tx domain.Transaction
	err := row.Scan(&tx.UserID, &tx.ID, &tx.Type, &tx.Model, &tx.Month,
		&tx.TotalPromptTokens, &tx.TotalCompletionTokens, &tx.TotalTokens, &tx.EstimatedCost,
		&tx.Completed, &tx.Error, &tx.CreatedAt, &tx.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

func (s *Store) Subcalls(ctx context.Context, userID, txID string) ([]domain.Subcall, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, transaction_id, subcall_type,
			prompt_tokens, completion_tokens, total_tokens, model, estimated_cost, recorded_at
		FROM token_subcalls
		WHERE user_id = $1 AND transaction_id = $2
		ORDER BY recorded_at ASC, subcall_type ASC`, userID, txID)
	if err != nil {
		return nil, fmt.Errorf("get subcalls: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subcall
	for rows.Next() {
		var sub domain.Subcall
		if err := rows.Scan(&sub.UserID, &sub.TransactionID, &sub.Type,
			&sub.PromptTokens, &sub.CompletionTokens, &sub.TotalTokens, &sub.Model,
			&sub.EstimatedCost, &sub.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan subcall: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subcalls: %w", err)
	}
	return subs, nil
}

const upsertUserCounter = `
	INSERT INTO user_usage_counters (user_id, scope, bucket, tokens, cost)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id, scope, bucket) DO UPDATE SET
		tokens = user_usage_counters.tokens + excluded.tokens,
		cost = user_usage_counters.cost + excluded.cost`

func (s *Store) AddUserUsage(ctx context.Context, userID string, d domain.UsageDelta) error {
	batch := &pgx.Batch{}

	batch.Queue(`
		INSERT INTO user_usage (user_id, lifetime_tokens, lifetime_cost, legacy_total_tokens, last_api_call, updated_at)
		VALUES ($1, $2, $3, $2, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			lifetime_tokens = user_usage.lifetime_tokens + excluded.lifetime_tokens,
			lifetime_cost = user_usage.lifetime_cost + excluded.lifetime_cost,
			legacy_total_tokens = user_usage.legacy_total_tokens + excluded.legacy_total_tokens,
			last_api_call = excluded.last_api_call,
			updated_at = excluded.updated_at`,
		userID, d.TotalTokens, d.Cost, d.At)

	batch.Queue(upsertUserCounter, userID, "monthly", d.Month, d.TotalTokens, d.Cost)
	batch.Queue(upsertUserCounter, userID, "model", d.Model, d.TotalTokens, d.Cost)
	batch.Queue(upsertUserCounter, userID, "source", d.Source, d.TotalTokens, d.Cost)
	batch.Queue(upsertUserCounter, userID, "hour", strconv.Itoa(d.Hour), d.TotalTokens, d.Cost)
	batch.Queue(upsertUserCounter, userID, "day", strconv.Itoa(d.Weekday), d.TotalTokens, d.Cost)

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("add user usage: %w", err)
		}
	}
	return nil
}

const upsertSummaryCounter = `
	INSERT INTO usage_summary_counters (month, scope, bucket, tokens, cost)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (month, scope, bucket) DO UPDATE SET
		tokens = usage_summary_counters.tokens + excluded.tokens,
		cost = usage_summary_counters.cost + excluded.cost`

func (s *Store) AddGlobalUsage(ctx context.Context, userID string, d domain.UsageDelta) error {
	batch := &pgx.Batch{}

	batch.Queue(`
		INSERT INTO usage_summary (month, total_tokens, total_cost, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (month) DO UPDATE SET
			total_tokens = usage_summary.total_tokens + excluded.total_tokens,
			total_cost = usage_summary.total_cost + excluded.total_cost,
			updated_at = excluded.updated_at`,
		d.Month, d.TotalTokens, d.Cost, d.At)

	batch.Queue(upsertSummaryCounter, d.Month, "user", userID, d.TotalTokens, d.Cost)
	batch.Queue(upsertSummaryCounter, d.Month, "model", d.Model, d.TotalTokens, d.Cost)
	batch.Queue(upsertSummaryCounter, d.Month, "source", d.Source, d.TotalTokens, d.Cost)

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("add global usage: %w", err)
		}
	}
	return nil
}

func (s *Store) UserUsage(ctx context.Context, userID string) (*domain.UserUsage, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, lifetime_tokens, lifetime_cost, legacy_total_tokens, last_api_call, updated_at
		FROM user_usage
		WHERE user_id = $1`, userID)

	usage := &domain.UserUsage{
		Monthly:  make(map[string]domain.UsageBucket),
		ByModel:  make(map[string]domain.UsageBucket),
		BySource: make(map[string]domain.UsageBucket),
		ByHour:   make(map[string]domain.UsageBucket),
		ByDay:    make(map[string]domain.UsageBucket),
	}
	err := row.Scan(&usage.UserID, &usage.LifetimeTokens, &usage.LifetimeCost,
		&usage.LegacyTotalTokens, &usage.LastAPICall, &usage.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUsageNotFound
		}
		return nil, fmt.Errorf("get user usage: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT scope, bucket, tokens, cost
		FROM user_usage_counters
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get user usage counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope, bucket string
		var b domain.UsageBucket
		if err := rows.Scan(&scope, &bucket, &b.Tokens, &b.Cost); err != nil {
			return nil, fmt.Errorf("scan usage counter: %w", err)
		}
		switch scope {
		case "monthly":
			usage.Monthly[bucket] = b
		case "model":
			usage.ByModel[bucket] = b
		case "source":
			usage.BySource[bucket] = b
		case "hour":
			usage.ByHour[bucket] = b
		case "day":
			usage.ByDay[bucket] = b
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage counters: %w", err)
	}
	return usage, nil
}

func (s *Store) MonthlySummary(ctx context.Context, month string) (*domain.MonthlySummary, error) {
	row := s.db.QueryRow(ctx, `
		SELECT month, total_tokens, total_cost, updated_at
		FROM usage_summary
		WHERE month = $1`, month)

	summary := &domain.MonthlySummary{
		Users:   make(map[string]domain.UsageBucket),
		Models:  make(map[string]domain.UsageBucket),
		Sources: make(map[string]domain.UsageBucket),
	}
	err := row.Scan(&summary.Month, &summary.TotalTokens, &summary.TotalCost, &summary.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUsageNotFound
		}
		return nil, fmt.Errorf("get monthly summary: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT scope, bucket, tokens, cost
		FROM usage_summary_counters
		WHERE month = $1`, month)
	if err != nil {
		return nil, fmt.Errorf("get summary counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope, bucket string
		var b domain.UsageBucket
		if err := rows.Scan(&scope, &bucket, &b.Tokens, &b.Cost); err != nil {
			return nil, fmt.Errorf("scan summary counter: %w", err)
		}
		switch scope {
		case "user":
			summary.Users[bucket] = b
		case "model":
			summary.Models[bucket] = b
		case "source":
			summary.Sources[bucket] = b
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary counters: %w", err)
	}
	return summary, nil
}
