package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/chat"
	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/model"
)

func login(ctx context.Context, apiAddr string, id int64, name string) (string, error) {
	body, _ := json.Marshal(map[string]any{"userId": id, "userName": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiAddr+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login %d: status %d", id, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func presence(ctx context.Context, apiAddr, token string) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiAddr+"/presence", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence: status %d", resp.StatusCode)
	}
	var ids []int64
	return ids, json.NewDecoder(resp.Body).Decode(&ids)
}

// verify logs in two users, sends one message through the gateway and waits
// for it to show up in the recipient's history.
func verify(ctx context.Context, cfg config.ClientConfig, from, to int64, logger *zap.Logger) error {
	api := strings.TrimRight(cfg.APIURL, "/")
	tokenA, err := login(ctx, api, from, "smoke-sender")
	if err != nil {
		return err
	}
	tokenB, err := login(ctx, api, to, "smoke-recipient")
	if err != nil {
		return err
	}
	logger.Info("logged in", zap.Int64("from", from), zap.Int64("to", to))

	cfg.Token = tokenA
	session, err := chat.NewSession(cfg, chat.SessionDeps{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.Start(ctx); err != nil {
		return err
	}
	if err := session.WaitConnected(ctx, 10*time.Second); err != nil {
		return err
	}
	if err := session.Open(ctx, to); err != nil {
		return err
	}

	online, err := presence(ctx, api, tokenA)
	if err != nil {
		return err
	}
	logger.Info("presence", zap.Int64s("online", online))

	content := "smoke " + uuid.NewString()
	if err := session.Submit(ctx, chat.NewDraft(content)); err != nil {
		return err
	}

	history := chat.NewHistoryClient(api, chat.StaticToken(tokenB), nil)
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		page, err := history.Conversation(ctx, to, from, 0, 20)
		if err != nil {
			return err
		}
		if contains(page.Content, content) {
			logger.Info("message persisted", zap.Int64("total", page.TotalElements))
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("message %q never reached the recipient's history", content)
}

func contains(msgs []model.Message, content string) bool {
	for _, m := range msgs {
		if m.Content == content {
			return true
		}
	}
	return false
}

func main() {
	cfg := config.LoadConfig()
	var from, to int64

	cmd := &cobra.Command{
		Use:          "verify_api",
		Short:        "Smoke-test login, gateway delivery, persistence and history",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := config.NewLogger(config.LoggingConfig{Level: cfg.Logging.Level, Format: "console"})
			if err != nil {
				return err
			}
			defer logger.Sync()
			return verify(cmd.Context(), cfg.Client, from, to, logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Client.APIURL, "api", cfg.Client.APIURL, "api service address")
	f.StringVar(&cfg.Client.GatewayURL, "gateway", cfg.Client.GatewayURL, "gateway websocket base url")
	f.Int64Var(&from, "from", 9001, "sender user id")
	f.Int64Var(&to, "to", 9002, "recipient user id")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
