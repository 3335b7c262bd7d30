package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/chat"
	"github.com/mahaj/campus-chat/pkg/config"
)

type loginRequest struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func login(ctx context.Context, apiAddr string, userID int64, name string) (string, error) {
	body, err := json.Marshal(loginRequest{UserID: userID, UserName: name})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiAddr, "/")+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("login failed: %s", strings.TrimSpace(string(msg)))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}

type options struct {
	userID  int64
	name    string
	to      int64
	verbose bool
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig()
	var opts options

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Direct-message another user from the terminal",
		Long: `Opens the conversation with --to and sends every line typed on stdin.
Without --token the client logs in with --user-id and --name first.

Commands: /retry resends the last unsent line, /reload refetches history,
/quit exits.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := cfg.Logging.Level
			if opts.verbose {
				level = "debug"
			}
			logger, err := config.NewLogger(config.LoggingConfig{Level: level, Format: "console"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runChat(ctx, cfg.Client, opts, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Client.GatewayURL, "gateway", cfg.Client.GatewayURL, "gateway websocket base url")
	f.StringVar(&cfg.Client.APIURL, "api", cfg.Client.APIURL, "api service address")
	f.StringVar(&cfg.Client.Token, "token", cfg.Client.Token, "access token (skips login)")
	f.Int64Var(&opts.userID, "user-id", 0, "user id to log in as")
	f.StringVar(&opts.name, "name", "", "display name to log in with")
	f.Int64Var(&opts.to, "to", 0, "user id to chat with")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.MarkFlagRequired("to")
	return cmd
}

func runChat(ctx context.Context, cfg config.ClientConfig, opts options, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if cfg.Token == "" {
		if opts.userID <= 0 || opts.name == "" {
			return errors.New("either --token or both --user-id and --name are required")
		}
		token, err := login(ctx, cfg.APIURL, opts.userID, opts.name)
		if err != nil {
			return err
		}
		cfg.Token = token
	}

	session, err := chat.NewSession(cfg, chat.SessionDeps{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()

	p := newPrinter(out, session.UserID())
	session.OnChange(p.Render)
	session.OnStateChange(func(s chat.State) { p.Line("[%s]", s) })

	go func() {
		for {
			select {
			case n := <-session.Notices():
				p.Line("! %s", n.Text)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := session.Start(ctx); err != nil {
		return err
	}
	if err := session.WaitConnected(ctx, 10*time.Second); err != nil {
		p.Line("gateway unreachable, retrying in the background")
	}
	if err := session.Open(ctx, opts.to); err != nil && !errors.Is(err, chat.ErrHistoryFetchFailed) {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	draft := chat.NewDraft("")
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(text) {
			case "":
				continue
			case "/quit":
				return nil
			case "/reload":
				session.Open(ctx, opts.to)
				continue
			}
			submitLine(ctx, session, draft, text, p)
		}
	}
}

type submitter interface {
	Submit(ctx context.Context, draft *chat.Draft) error
}

// submitLine sends text, or the kept draft for /retry. A line that could not
// be sent stays in draft and is shown again so it is not lost.
func submitLine(ctx context.Context, s submitter, draft *chat.Draft, text string, p *printer) {
	if strings.TrimSpace(text) == "/retry" {
		if strings.TrimSpace(draft.Text()) == "" {
			p.Line("! nothing to retry")
			return
		}
	} else {
		draft.Set(text)
	}

	err := s.Submit(ctx, draft)
	switch {
	case err == nil:
		return
	case errors.Is(err, chat.ErrSendInFlight):
		p.Line("! still sending the previous message")
	case !errors.Is(err, chat.ErrNotConnected):
		p.Line("! not sent: %v", err)
	}
	if kept := draft.Text(); kept != "" {
		p.Line("kept: %s  (/retry to send)", kept)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
