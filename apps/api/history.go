package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/db"
	"github.com/mahaj/campus-chat/pkg/model"
)

type HistoryReader interface {
	Conversation(ctx context.Context, a, b int64, page, size int) (model.Page, error)
}

type TokenService interface {
	GenerateToken(userID int64, userName string) (string, error)
	ValidateToken(token string) (*auth.Claims, error)
}

type NameStore interface {
	SetName(ctx context.Context, userID int64, name string) error
}

type HistoryHandler struct {
	history HistoryReader
	log     *zap.Logger
}

func NewHistoryHandler(history HistoryReader, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, log: logger}
}

// ServeHTTP answers GET /chat/conversation?fromUserId=&toUserId=&page=&size=.
// Callers may only read conversations they take part in.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	from, err := queryInt64(q.Get("fromUserId"), claims.UserID)
	if err != nil {
		http.Error(w, "invalid fromUserId", http.StatusBadRequest)
		return
	}
	if from != claims.UserID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	to, err := queryInt64(q.Get("toUserId"), 0)
	if err != nil || to <= 0 {
		http.Error(w, "toUserId is required", http.StatusBadRequest)
		return
	}
	page, err := queryInt(q.Get("page"), 0)
	if err != nil || page < 0 || page > db.MaxPage {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	size, err := queryInt(q.Get("size"), 50)
	if err != nil || size <= 0 {
		http.Error(w, "invalid size", http.StatusBadRequest)
		return
	}

	result, err := h.history.Conversation(r.Context(), from, to, page, size)
	if err != nil {
		h.log.Error("failed to read conversation", zap.Int64("from", from), zap.Int64("to", to), zap.Error(err))
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type LoginRequest struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues a token for a claimed identity and records its display name.
func LoginHandler(tokens TokenService, names NameStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.UserName = strings.TrimSpace(req.UserName)
		if req.UserID <= 0 {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		if req.UserName == "" {
			http.Error(w, "userName is required", http.StatusBadRequest)
			return
		}

		token, err := tokens.GenerateToken(req.UserID, req.UserName)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		if err := names.SetName(r.Context(), req.UserID, req.UserName); err != nil {
			logger.Warn("failed to store user name", zap.Int64("user_id", req.UserID), zap.Error(err))
		}

		writeJSON(w, http.StatusOK, LoginResponse{Token: token})
	}
}

func AuthMiddleware(tokens TokenService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateToken(auth.StripBearer(header))
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			logger.Debug("authenticated user", zap.Int64("user_id", claims.UserID))
			ctx := context.WithValue(r.Context(), auth.UserKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func queryInt64(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
