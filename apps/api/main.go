package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/db"
	"github.com/mahaj/campus-chat/pkg/presence"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

type routes struct {
	tokens   TokenService
	names    NameStore
	history  HistoryReader
	presence OnlineLister
	inbox    Inbox
	log      *zap.Logger
}

func newRouter(rt routes) *mux.Router {
	r := mux.NewRouter()
	r.Use(CORSMiddleware)

	// Public endpoint
	r.Handle("/login", LoginHandler(rt.tokens, rt.names, rt.log)).Methods(http.MethodPost, http.MethodOptions)

	protected := r.NewRoute().Subrouter()
	protected.Use(AuthMiddleware(rt.tokens, rt.log))
	protected.Handle("/chat/conversation", NewHistoryHandler(rt.history, rt.log)).Methods(http.MethodGet, http.MethodOptions)
	protected.Handle("/presence", NewPresenceHandler(rt.presence, rt.log)).Methods(http.MethodGet, http.MethodOptions)
	protected.Handle("/conversations", ConversationsHandler(rt.inbox, rt.log)).Methods(http.MethodGet, http.MethodOptions)
	protected.Handle("/conversations/read", ReadHandler(rt.inbox, rt.log)).Methods(http.MethodPost, http.MethodOptions)
	return r
}

func main() {
	cfg := config.LoadConfig()
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Named("api")); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := db.NewSession(cfg.Scylla, logger)
	if err != nil {
		return err
	}
	defer session.Close()
	repo := db.NewRepository(session)

	rdb := presence.NewClient(cfg.Redis)
	defer rdb.Close()
	users := presence.NewStore(rdb)

	router := newRouter(routes{
		tokens:   auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL),
		names:    users,
		history:  repo,
		presence: users,
		inbox:    repo,
		log:      logger,
	})
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API service starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
