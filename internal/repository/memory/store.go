// Package memory holds an in-memory implementation of the store ports,
// used by tests and local development.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/shopspring/decimal"
)

type txKey struct {
	userID string
	txID   string
}

type subKey struct {
	userID  string
	txID    string
	subType string
}

type Store struct {
	mu sync.RWMutex

	sessions map[string]*domain.Session
	messages map[string][]domain.Message

	transactions map[txKey]*domain.Transaction
	subcalls     map[subKey]*domain.Subcall
	userUsage    map[string]*domain.UserUsage
	summaries    map[string]*domain.MonthlySummary

	prompts      []domain.ContextualPrompt
	nextPromptID int64
}

func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*domain.Session),
		messages:     make(map[string][]domain.Message),
		transactions: make(map[txKey]*domain.Transaction),
		subcalls:     make(map[subKey]*domain.Subcall),
		userUsage:    make(map[string]*domain.UserUsage),
		summaries:    make(map[string]*domain.MonthlySummary),
		nextPromptID: 1,
	}
}

// --- SessionStore ---

func (s *Store) LatestActive(ctx context.Context, userID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || !sess.Active {
			continue
		}
		if latest == nil || sess.LastActive.After(latest.LastActive) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, domain.ErrSessionNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *Store) Create(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *Store) Touch(ctx context.Context, id string, lastActive time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.LastActive = lastActive
	return nil
}

func (s *Store) Close(ctx context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Active = false
	end := endedAt
	sess.SessionEnd = &end
	return nil
}

func (s *Store) SetSummary(ctx context.Context, id string, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Summary = summary
	return nil
}

func (s *Store) CountByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]domain.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// --- UsageStore ---

func (s *Store) PutTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *tx
	s.transactions[txKey{tx.UserID, tx.ID}] = &copied
	return nil
}

func (s *Store) UpsertSubcall(ctx context.Context, sub *domain.Subcall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sub
	s.subcalls[subKey{sub.UserID, sub.TransactionID, sub.Type}] = &copied
	return nil
}

func (s *Store) AddTransactionTotals(ctx context.Context, userID, txID string, promptTokens, completionTokens, totalTokens int64, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txKey{userID, txID}]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	tx.TotalPromptTokens += promptTokens
	tx.TotalCompletionTokens += completionTokens
	tx.TotalTokens += totalTokens
	tx.EstimatedCost = tx.EstimatedCost.Add(cost)
	return nil
}

func (s *Store) FinalizeTransaction(ctx context.Context, userID, txID, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txKey{userID, txID}]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	tx.Completed = true
	tx.Error = errMsg
	completedAt := at
	tx.CompletedAt = &completedAt
	return nil
}

func (s *Store) Transaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txKey{userID, txID}]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *Store) Subcalls(ctx context.Context, userID, txID string) ([]domain.Subcall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []domain.Subcall
	for key, sub := range s.subcalls {
		if key.userID == userID && key.txID == txID {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].RecordedAt.Equal(subs[j].RecordedAt) {
			return subs[i].Type < subs[j].Type
		}
		return subs[i].RecordedAt.Before(subs[j].RecordedAt)
	})
	return subs, nil
}

func (s *Store) AddUserUsage(ctx context.Context, userID string, d domain.UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage, ok := s.userUsage[userID]
	if !ok {
		usage = &domain.UserUsage{
			UserID:       userID,
			LifetimeCost: decimal.Zero,
			Monthly:      make(map[string]domain.UsageBucket),
			ByModel:      make(map[string]domain.UsageBucket),
			BySource:     make(map[string]domain.UsageBucket),
			ByHour:       make(map[string]domain.UsageBucket),
			ByDay:        make(map[string]domain.UsageBucket),
		}
		s.userUsage[userID] = usage
	}

	usage.LifetimeTokens += d.TotalTokens
	usage.LifetimeCost = usage.LifetimeCost.Add(d.Cost)
	usage.LegacyTotalTokens += d.TotalTokens
	usage.LastAPICall = d.At
	usage.UpdatedAt = d.At

	addBucket(usage.Monthly, d.Month, d)
	addBucket(usage.ByModel, d.Model, d)
	addBucket(usage.BySource, d.Source, d)
	addBucket(usage.ByHour, strconv.Itoa(d.Hour), d)
	addBucket(usage.ByDay, strconv.Itoa(d.Weekday), d)
	return nil
}

func (s *Store) AddGlobalUsage(ctx context.Context, userID string, d domain.UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.summaries[d.Month]
	if !ok {
		summary = &domain.MonthlySummary{
			Month:     d.Month,
			Users:     make(map[string]domain.UsageBucket),
			Models:    make(map[string]domain.UsageBucket),
			Sources:   make(map[string]domain.UsageBucket),
			TotalCost: decimal.Zero,
		}
		s.summaries[d.Month] = summary
	}

	summary.TotalTokens += d.TotalTokens
	summary.TotalCost = summary.TotalCost.Add(d.Cost)
	summary.UpdatedAt = d.At

	addBucket(summary.Users, userID, d)
	addBucket(summary.Models, d.Model, d)
	addBucket(summary.Sources, d.Source, d)
	return nil
}

func (s *Store) UserUsage(ctx context.Context, userID string) (*domain.UserUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage, ok := s.userUsage[userID]
	if !ok {
		return nil, domain.ErrUsageNotFound
	}
	return copyUserUsage(usage), nil
}

func (s *Store) MonthlySummary(ctx context.Context, month string) (*domain.MonthlySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[month]
	if !ok {
		return nil, domain.ErrUsageNotFound
	}
	copied := *summary
	copied.Users = copyBuckets(summary.Users)
	copied.Models = copyBuckets(summary.Models)
	copied.Sources = copyBuckets(summary.Sources)
	return &copied, nil
}

// --- PromptStore ---

// SeedPrompt registers a contextual prompt, standing in for the external
// admin surface that manages prompts in production.
func (s *Store) SeedPrompt(trigger domain.TriggerType, emotion, content string, active bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextPromptID
	s.nextPromptID++
	s.prompts = append(s.prompts, domain.ContextualPrompt{
		ID:        id,
		Trigger:   trigger,
		Emotion:   emotion,
		Content:   content,
		Active:    active,
		CreatedAt: time.Now(),
	})
	return id
}

func (s *Store) FirstActiveByTrigger(ctx context.Context, trigger domain.TriggerType) (*domain.ContextualPrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.prompts {
		p := s.prompts[i]
		if p.Active && p.Trigger == trigger && p.Emotion == "" {
			return &p, nil
		}
	}
	return nil, domain.ErrPromptNotFound
}

func (s *Store) FirstActiveByEmotion(ctx context.Context, emotion string) (*domain.ContextualPrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.prompts {
		p := s.prompts[i]
		if p.Active && p.Trigger == domain.TriggerEmotionDetected && p.Emotion == emotion {
			return &p, nil
		}
	}
	return nil, domain.ErrPromptNotFound
}

func addBucket(m map[string]domain.UsageBucket, key string, d domain.UsageDelta) {
	b := m[key]
	b.Tokens += d.TotalTokens
	b.Cost = b.Cost.Add(d.Cost)
	m[key] = b
}

func copyBuckets(m map[string]domain.UsageBucket) map[string]domain.UsageBucket {
	out := make(map[string]domain.UsageBucket, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyUserUsage(u *domain.UserUsage) *domain.UserUsage {
	copied := *u
	copied.Monthly = copyBuckets(u.Monthly)
	copied.ByModel = copyBuckets(u.ByModel)
	copied.BySource = copyBuckets(u.BySource)
	copied.ByHour = copyBuckets(u.ByHour)
	copied.ByDay = copyBuckets(u.ByDay)
	return &copied
}
