// Package handler exposes the companion API over HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/evermind-app/evermind/internal/service"
	"github.com/go-chi/chi/v5"
)

// Handler holds the dependencies shared by all route handlers.
type Handler struct {
	chat  *service.ChatService
	usage domain.UsageStore
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Chat  *service.ChatService
	Usage domain.UsageStore
}

func New(deps Deps) *Handler {
	return &Handler{
		chat:  deps.Chat,
		usage: deps.Usage,
	}
}

// Register mounts the authenticated API routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/chat/message", h.ChatMessage)
	r.Post("/chat/end", h.EndSession)
	r.Get("/usage/me", h.MyUsage)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
