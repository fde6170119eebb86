package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/evermind-app/evermind/internal/domain"
	"github.com/evermind-app/evermind/internal/middleware"
	"github.com/shopspring/decimal"
)

type usageBucketResponse struct {
	Tokens int64           `json:"tokens"`
	Cost   decimal.Decimal `json:"cost"`
}

type usageResponse struct {
	LifetimeTokens int64                          `json:"lifetimeTokens"`
	LifetimeCost   decimal.Decimal                `json:"lifetimeCost"`
	Monthly        map[string]usageBucketResponse `json:"monthly"`
	ByModel        map[string]usageBucketResponse `json:"byModel"`
	BySource       map[string]usageBucketResponse `json:"bySource"`
	ByHour         map[string]usageBucketResponse `json:"byHour"`
	ByDay          map[string]usageBucketResponse `json:"byDay"`
	LastAPICall    time.Time                      `json:"lastApiCall"`
}

func (h *Handler) MyUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	usage, err := h.usage.UserUsage(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUsageNotFound) {
			http.Error(w, "no usage recorded", http.StatusNotFound)
			return
		}
		slog.Error("load usage failed", "user_id", userID, "error", err)
		http.Error(w, "failed to load usage", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, usageResponse{
		LifetimeTokens: usage.LifetimeTokens,
		LifetimeCost:   usage.LifetimeCost,
		Monthly:        toBuckets(usage.Monthly),
		ByModel:        toBuckets(usage.ByModel),
		BySource:       toBuckets(usage.BySource),
		ByHour:         toBuckets(usage.ByHour),
		ByDay:          toBuckets(usage.ByDay),
		LastAPICall:    usage.LastAPICall,
	})
}

func toBuckets(m map[string]domain.UsageBucket) map[string]usageBucketResponse {
	out := make(map[string]usageBucketResponse, len(m))
	for k, v := range m {
		out[k] = usageBucketResponse{Tokens: v.Tokens, Cost: v.Cost}
	}
	return out
}
