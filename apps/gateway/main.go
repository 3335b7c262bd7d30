package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/presence"
	"github.com/mahaj/campus-chat/pkg/snowflake"
	"github.com/mahaj/campus-chat/pkg/stream"
)

func newRouter(hub *Hub, tokens TokenValidator, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{token}", serveWs(hub, tokens, logger)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func main() {
	cfg := config.LoadConfig()
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Named("gateway")); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := snowflake.NewNode(cfg.Gateway.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake node: %w", err)
	}

	rdb := presence.NewClient(cfg.Redis)
	defer rdb.Close()
	directory := presence.NewStore(rdb)

	publisher := stream.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	// Every gateway needs every message, so each instance reads in its own group.
	groupID := fmt.Sprintf("gateway-%d-%d", cfg.Gateway.NodeID, time.Now().UnixNano())
	fanout := stream.NewGroupReader(cfg.Kafka, groupID, kafka.LastOffset)
	defer fanout.Close()

	hub := NewHub(publisher, directory, directory, node, logger.Named("hub"))
	issuer := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           newRouter(hub, issuer, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return stream.Consume(ctx, fanout, hub.Deliver, logger.Named("fanout")) })
	g.Go(func() error {
		logger.Info("gateway service starting", zap.String("addr", srv.Addr))
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
