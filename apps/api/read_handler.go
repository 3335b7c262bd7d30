package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/auth"
)

type ReadRequest struct {
	OtherUserID int64 `json:"otherUserId"`
}

// ReadHandler clears the caller's unread count for one conversation.
func ReadHandler(inbox Inbox, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID <= 0 {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := inbox.MarkRead(r.Context(), claims.UserID, req.OtherUserID); err != nil {
			logger.Error("failed to reset unread count", zap.Int64("user_id", claims.UserID), zap.Error(err))
			http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
