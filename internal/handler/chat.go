package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/evermind-app/evermind/internal/middleware"
)

type chatMessageRequest struct {
	Message string `json:"message"`
	Emotion string `json:"emotion"`
}

type chatMessageResponse struct {
	Content          string `json:"content"`
	ConversationID   string `json:"conversationId"`
	IsNewSession     bool   `json:"isNewSession"`
	TimeGapInMinutes int    `json:"timeGapInMinutes"`
}

func (h *Handler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := h.chat.HandleMessage(r.Context(), userID, req.Message, req.Emotion)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyMessage) {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		slog.Error("chat turn failed", "user_id", userID, "error", err)
		http.Error(w, "failed to process message", http.StatusBadGateway)
		return
	}

	respondJSON(w, http.StatusOK, chatMessageResponse{
		Content:          out.Content,
		ConversationID:   out.ConversationID,
		IsNewSession:     out.IsNewSession,
		TimeGapInMinutes: out.TimeGapMinutes,
	})
}

type endSessionRequest struct {
	ConversationID  string `json:"conversationId"`
	GenerateSummary bool   `json:"generateSummary"`
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		http.Error(w, "conversationId is required", http.StatusBadRequest)
		return
	}

	err := h.chat.EndSession(r.Context(), userID, req.ConversationID, req.GenerateSummary)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "not your conversation", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("end session failed", "user_id", userID, "conversation_id", req.ConversationID, "error", err)
		http.Error(w, "failed to end session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
