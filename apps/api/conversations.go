package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/db"
)

type Inbox interface {
	Conversations(ctx context.Context, user int64) ([]db.Conversation, error)
	MarkRead(ctx context.Context, user, other int64) error
}

// ConversationsHandler lists the caller's conversations with unread counts.
func ConversationsHandler(inbox Inbox, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conversations, err := inbox.Conversations(r.Context(), claims.UserID)
		if err != nil {
			logger.Error("failed to list conversations", zap.Int64("user_id", claims.UserID), zap.Error(err))
			http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
			return
		}
		if conversations == nil {
			conversations = []db.Conversation{}
		}
		writeJSON(w, http.StatusOK, conversations)
	}
}
