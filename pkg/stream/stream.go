// Package stream moves confirmed direct messages through Kafka.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/model"
)

// Publisher writes messages to the chat topic. Messages are keyed by
// conversation so one conversation stays ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
}

func (p *Publisher) Publish(ctx context.Context, msg model.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(model.ConversationKey(msg.FromUserID, msg.ToUserID)),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish message %d: %w", msg.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NewGroupReader reads the topic as a member of groupID.
func NewGroupReader(cfg config.KafkaConfig, groupID string, startOffset int64) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		StartOffset: startOffset,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
	})
}

// Reader is the part of *kafka.Reader Consume needs.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Handler processes one decoded message.
type Handler func(ctx context.Context, msg model.Message) error

const retryDelay = time.Second

// Consume decodes messages from r and hands them to handle until ctx ends.
// Records that do not decode are skipped. Handler errors are logged and the
// record is not retried.
func Consume(ctx context.Context, r Reader, handle Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Warn("error reading message, retrying", zap.Error(err), zap.Duration("delay", retryDelay))
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		msg, err := model.ParseMessage(m.Value)
		if err != nil {
			logger.Warn("skipping undecodable record", zap.Error(err), zap.Int64("offset", m.Offset))
			continue
		}
		if err := handle(ctx, msg); err != nil {
			logger.Error("failed to handle message", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
	}
}
