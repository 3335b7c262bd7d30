package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/db"
	"github.com/mahaj/campus-chat/pkg/stream"
)

func main() {
	cfg := config.LoadConfig()
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Named("messaging")); err != nil {
		logger.Fatal("messaging stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// same schema as scripts/migrate
	if err := db.EnsureKeyspace(cfg.Scylla); err != nil {
		return err
	}
	session, err := db.NewSession(cfg.Scylla, logger)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.Migrate(); err != nil {
		return err
	}

	reader := stream.NewGroupReader(cfg.Kafka, cfg.Kafka.GroupID, kafka.FirstOffset)
	defer reader.Close()

	consumer := NewConsumer(reader, db.NewRepository(session), logger)
	logger.Info("starting Kafka consumer", zap.String("topic", cfg.Kafka.Topic), zap.String("group", cfg.Kafka.GroupID))
	return consumer.Consume(ctx)
}
