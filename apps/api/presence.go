package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type OnlineLister interface {
	Online(ctx context.Context) ([]int64, error)
}

type PresenceHandler struct {
	presence OnlineLister
	log      *zap.Logger
}

func NewPresenceHandler(presence OnlineLister, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, log: logger}
}

// ServeHTTP returns the ids of users connected to any gateway.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.Online(r.Context())
	if err != nil {
		h.log.Error("failed to fetch presence", zap.Error(err))
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []int64{}
	}
	writeJSON(w, http.StatusOK, users)
}
