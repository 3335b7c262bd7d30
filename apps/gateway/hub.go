package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/model"
)

// Publisher hands confirmed messages to the bus that fans them back out.
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type Presence interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
}

type Directory interface {
	Name(ctx context.Context, userID int64) (string, error)
}

type IDGenerator interface {
	Generate() int64
}

type inbound struct {
	client *Client
	out    model.OutboundMessage
}

// Hub tracks connected clients by user and turns their payloads into
// confirmed messages.
type Hub struct {
	clients    map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
	mu         sync.RWMutex

	publisher Publisher
	presence  Presence
	directory Directory
	ids       IDGenerator
	log       *zap.Logger
	now       func() time.Time
}

func NewHub(publisher Publisher, presence Presence, directory Directory, ids IDGenerator, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		publisher:  publisher,
		presence:   presence,
		directory:  directory,
		ids:        ids,
		log:        logger,
		now:        time.Now,
	}
}

// Run serves registrations and inbound payloads until ctx ends, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mu.Lock()
			first := len(h.clients[client.UserID]) == 0
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.mu.Unlock()

			if first {
				if err := h.presence.SetOnline(ctx, client.UserID); err != nil {
					h.log.Warn("failed to set presence", zap.Int64("user_id", client.UserID), zap.Error(err))
				}
			}
			h.log.Info("client registered", zap.Int64("user_id", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			last := len(h.clients[client.UserID]) == 0
			h.mu.Unlock()

			if last {
				if err := h.presence.SetOffline(ctx, client.UserID); err != nil {
					h.log.Warn("failed to delete presence", zap.Int64("user_id", client.UserID), zap.Error(err))
				}
			}
			h.log.Info("client unregistered", zap.Int64("user_id", client.UserID))

		case in := <-h.inbound:
			msg := h.confirm(ctx, in.client, in.out)
			if err := h.publisher.Publish(ctx, msg); err != nil {
				h.log.Error("failed to publish message", zap.Int64("message_id", msg.ID), zap.Error(err))
				continue
			}
			h.log.Debug("message published", zap.Int64("message_id", msg.ID), zap.Int64("to", msg.ToUserID))
		}
	}
}

// confirm assigns the server identity and timestamp to a client payload.
func (h *Hub) confirm(ctx context.Context, c *Client, out model.OutboundMessage) model.Message {
	toName, err := h.directory.Name(ctx, out.To)
	if err != nil {
		h.log.Warn("name lookup failed", zap.Int64("user_id", out.To), zap.Error(err))
	}
	return model.Message{
		ID:           h.ids.Generate(),
		FromUserID:   c.UserID,
		FromUserName: c.UserName,
		ToUserID:     out.To,
		ToUserName:   toName,
		Content:      out.Content,
		Type:         model.TypeDirect,
		Date:         h.now().UTC(),
		ClientID:     out.ClientID,
	}
}

// Deliver routes a confirmed message to every connection of both
// participants. The sender's own connections receive it as the echo.
func (h *Hub) Deliver(_ context.Context, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	recipients := []int64{msg.FromUserID}
	if msg.ToUserID != msg.FromUserID {
		recipients = append(recipients, msg.ToUserID)
	}
	for _, userID := range recipients {
		for client := range h.clients[userID] {
			select {
			case client.send <- data:
			default:
				h.log.Warn("dropping slow client", zap.Int64("user_id", userID))
				h.removeLocked(client)
			}
		}
	}
	return nil
}

// Online reports whether userID has at least one connection on this gateway.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// removeLocked forgets client and closes its send channel once.
func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.UserID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.UserID)
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			close(client.send)
		}
	}
	h.clients = make(map[int64]map[*Client]bool)
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(c *Client, out model.OutboundMessage) {
	select {
	case h.inbound <- inbound{client: c, out: out}:
	case <-h.done:
	}
}
