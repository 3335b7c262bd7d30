package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/campus-chat/pkg/model"
)

func TestHistoryClient_Conversation(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/conversation", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		page := model.NewPage([]model.Message{confirmed(1, 2, 1, "hi", base)}, 0, 50, 1)
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL+"/", StaticToken("tok"), nil)
	page, err := c.Conversation(context.Background(), 1, 2, 0, 50)
	require.NoError(t, err)

	assert.Equal(t, "fromUserId=1&page=0&size=50&toUserId=2", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, page.Content, 1)
	assert.Equal(t, "hi", page.Content[0].Content)
	assert.Equal(t, int64(1), page.TotalElements)
}

func TestHistoryClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("toUserId") == "3" {
			w.Write([]byte("{not json"))
			return
		}
		http.Error(w, "Invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, nil, nil)

	_, err := c.Conversation(context.Background(), 1, 2, 0, 50)
	assert.ErrorContains(t, err, "status 401")

	_, err = c.Conversation(context.Background(), 1, 3, 0, 50)
	assert.ErrorContains(t, err, "decode history")
}

func TestHistoryClient_FeedsStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStore(NewHistoryClient(srv.URL, nil, nil), 0, nil)
	err := s.Load(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrHistoryFetchFailed)
	assert.Empty(t, s.Messages())
}
