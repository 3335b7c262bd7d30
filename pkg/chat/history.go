package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mahaj/campus-chat/pkg/model"
)

// HistoryClient reads conversations from the api's REST endpoint.
type HistoryClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewHistoryClient(baseURL string, tokens TokenSource, httpClient *http.Client) *HistoryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &HistoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// Conversation fetches GET /chat/conversation for the pair.
func (c *HistoryClient) Conversation(ctx context.Context, me, counterpart int64, page, size int) (model.Page, error) {
	q := url.Values{}
	q.Set("fromUserId", strconv.FormatInt(me, 10))
	q.Set("toUserId", strconv.FormatInt(counterpart, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/conversation?"+q.Encode(), nil)
	if err != nil {
		return model.Page{}, fmt.Errorf("build request: %w", err)
	}
	if token := c.tokens(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Page{}, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Page{}, fmt.Errorf("history request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p model.Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return model.Page{}, fmt.Errorf("decode history: %w", err)
	}
	return p, nil
}
