package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evermind-app/evermind/internal/alerts"
	"github.com/evermind-app/evermind/internal/config"
	"github.com/evermind-app/evermind/internal/domain"
	"github.com/google/uuid"
)

// ChatOutput is the user-visible result of one companion turn.
type ChatOutput struct {
	Content        string
	ConversationID string
	IsNewSession   bool
	TimeGapMinutes int
}

// ChatService coordinates one user turn: session continuity, message
// persistence, the provider call, and usage accounting.
type ChatService struct {
	cfg        *config.Config
	store      domain.SessionStore
	continuity *ContinuityService
	ledger     *Ledger
	llm        domain.LLMClient
	notifier   *alerts.Notifier
	now        func() time.Time
}

func NewChatService(cfg *config.Config, store domain.SessionStore, continuity *ContinuityService, ledger *Ledger, llm domain.LLMClient, notifier *alerts.Notifier) *ChatService {
	return &ChatService{
		cfg:        cfg,
		store:      store,
		continuity: continuity,
		ledger:     ledger,
		llm:        llm,
		notifier:   notifier,
		now:        time.Now,
	}
}

// HandleMessage runs one companion turn. Ledger failures are logged and
// swallowed; metering never blocks the conversation.
func (s *ChatService) HandleMessage(ctx context.Context, userID, text, emotion string) (*ChatOutput, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}

	model := s.cfg.DefaultModel
	txID := uuid.NewString()
	s.telemetry("initialize transaction", s.ledger.Initialize(ctx, userID, txID, config.TxTypeCompanionChat, model))

	if emotion == "" && s.cfg.EmotionAnalysisEnabled {
		emotion = s.analyzeEmotion(ctx, userID, txID, text)
	}

	cont, err := s.continuity.ResumeOrCreate(ctx, userID, text, emotion)
	if err != nil {
		return nil, err
	}

	history, err := s.store.Messages(ctx, cont.Session.ID, config.MaxContextMessages)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	systemPrompt := cont.PromptHint
	if systemPrompt == "" {
		systemPrompt = config.DefaultSystemPrompt
	}
	messages := make([]domain.LLMMessage, 0, len(history)+1)
	messages = append(messages, domain.LLMMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, domain.LLMMessage{Role: m.Role, Content: m.Content})
	}

	reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	completion, err := s.llm.Complete(reqCtx, model, messages, s.cfg.MaxCompletionTokens)
	if err != nil {
		s.telemetry("finalize failed transaction", s.ledger.Finalize(ctx, userID, txID, err.Error()))
		return nil, fmt.Errorf("companion reply: %w", err)
	}

	s.telemetry("record primary subcall",
		s.ledger.RecordSubcall(ctx, userID, txID, config.SubcallPrimary, model, completion.Usage))

	reply := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: cont.Session.ID,
		Role:           domain.RoleAssistant,
		Content:        completion.Content,
		CreatedAt:      s.now(),
	}
	if err := s.store.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	s.telemetry("finalize transaction", s.ledger.Finalize(ctx, userID, txID, ""))

	return &ChatOutput{
		Content:        completion.Content,
		ConversationID: cont.Session.ID,
		IsNewSession:   cont.IsNewSession,
		TimeGapMinutes: int(cont.TimeGap.Minutes()),
	}, nil
}

// EndSession closes a conversation on explicit user request and optionally
// stores an LLM-generated summary on it. Summary failures never fail the
// request.
func (s *ChatService) EndSession(ctx context.Context, userID, conversationID string, generateSummary bool) error {
	session, err := s.continuity.End(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if generateSummary {
		s.summarize(ctx, userID, session)
	}
	return nil
}

// analyzeEmotion asks the model for a one-word emotion label and meters the
// call as an emotion_analysis subcall. Best-effort: returns "" on failure.
func (s *ChatService) analyzeEmotion(ctx context.Context, userID, txID, text string) string {
	reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	completion, err := s.llm.Complete(reqCtx, s.cfg.DefaultModel, []domain.LLMMessage{
		{Role: domain.RoleSystem, Content: config.EmotionAnalysisPrompt},
		{Role: domain.RoleUser, Content: text},
	}, config.EmotionAnalysisMaxTokens)
	if err != nil {
		slog.Warn("emotion analysis failed", "user_id", userID, "error", err)
		return ""
	}

	s.telemetry("record emotion subcall",
		s.ledger.RecordSubcall(ctx, userID, txID, config.SubcallEmotion, s.cfg.DefaultModel, completion.Usage))

	fields := strings.Fields(completion.Content)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], ".,!"))
}

// summarize generates and stores a closing summary for an ended session,
// metered in its own transaction.
func (s *ChatService) summarize(ctx context.Context, userID string, session *domain.Session) {
	history, err := s.store.Messages(ctx, session.ID, 0)
	if err != nil || len(history) == 0 {
		if err != nil {
			slog.Error("load history for summary failed", "conversation_id", session.ID, "error", err)
		}
		return
	}

	txID := uuid.NewString()
	s.telemetry("initialize summary transaction",
		s.ledger.Initialize(ctx, userID, txID, config.TxTypeSessionSummary, s.cfg.DefaultModel))

	messages := make([]domain.LLMMessage, 0, len(history)+1)
	messages = append(messages, domain.LLMMessage{Role: domain.RoleSystem, Content: config.SummaryPrompt})
	for _, m := range history {
		messages = append(messages, domain.LLMMessage{Role: m.Role, Content: m.Content})
	}

	reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	completion, err := s.llm.Complete(reqCtx, s.cfg.DefaultModel, messages, config.SummaryMaxTokens)
	if err != nil {
		slog.Error("summary generation failed", "conversation_id", session.ID, "error", err)
		s.telemetry("finalize summary transaction", s.ledger.Finalize(ctx, userID, txID, err.Error()))
		return
	}

	s.telemetry("record summary subcall",
		s.ledger.RecordSubcall(ctx, userID, txID, config.SubcallSummary, s.cfg.DefaultModel, completion.Usage))

	if err := s.store.SetSummary(ctx, session.ID, completion.Content); err != nil {
		slog.Error("store summary failed", "conversation_id", session.ID, "error", err)
	}

	s.telemetry("finalize summary transaction", s.ledger.Finalize(ctx, userID, txID, ""))
}

// telemetry logs and swallows a ledger failure. Usage accounting is
// best-effort and must not alter the outcome of the turn.
func (s *ChatService) telemetry(operation string, err error) {
	if err == nil {
		return
	}
	slog.Error("usage telemetry failed", "operation", operation, "error", err)
	s.notifier.Error(operation, err)
}
