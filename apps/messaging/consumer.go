package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/model"
	"github.com/mahaj/campus-chat/pkg/stream"
)

type MessageStore interface {
	SaveDirect(ctx context.Context, msg model.Message) error
}

// Consumer persists confirmed direct messages read from the chat topic.
type Consumer struct {
	reader stream.Reader
	store  MessageStore
	log    *zap.Logger
}

func NewConsumer(reader stream.Reader, store MessageStore, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, store: store, log: logger}
}

func (c *Consumer) Consume(ctx context.Context) error {
	return stream.Consume(ctx, c.reader, c.handle, c.log)
}

func (c *Consumer) handle(ctx context.Context, msg model.Message) error {
	// Only persist actual messages
	if msg.Type != model.TypeDirect {
		c.log.Debug("skipping ephemeral message", zap.String("type", string(msg.Type)))
		return nil
	}
	if err := c.store.SaveDirect(ctx, msg); err != nil {
		return err
	}
	c.log.Debug("message saved", zap.Int64("message_id", msg.ID), zap.String("conversation", model.ConversationKey(msg.FromUserID, msg.ToUserID)))
	return nil
}
