package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeDirect   MessageType = "direct"
	TypeTyping   MessageType = "typing"
	TypePresence MessageType = "presence"
)

// PendingPrefix marks locally created identities. Server identities are
// numeric, so the two namespaces never collide.
const PendingPrefix = "pending-"

var ErrInvalidMessage = errors.New("invalid message")

// Message is a direct message as it travels on the socket and in history pages.
type Message struct {
	ID           int64       `json:"id"`
	FromUserID   int64       `json:"fromUserId"`
	FromUserName string      `json:"fromUserName"`
	ToUserID     int64       `json:"toUserId"`
	ToUserName   string      `json:"toUserName"`
	Content      string      `json:"content"`
	Type         MessageType `json:"type"`
	Date         time.Time   `json:"date"`
	ClientID     string      `json:"clientId,omitempty"`

	// Local-only fields.
	PendingID string `json:"-"`
	Pending   bool   `json:"-"`
}

// Key returns the identity of the message within a conversation.
func (m Message) Key() string {
	if m.Pending {
		return m.PendingID
	}
	return strconv.FormatInt(m.ID, 10)
}

// Involves reports whether the message was exchanged between a and b, in either direction.
func (m Message) Involves(a, b int64) bool {
	return (m.FromUserID == a && m.ToUserID == b) || (m.FromUserID == b && m.ToUserID == a)
}

// NewPending builds an optimistic message for text the current user just submitted.
func NewPending(from, to int64, content string, now time.Time) Message {
	clientID := uuid.NewString()
	return Message{
		FromUserID: from,
		ToUserID:   to,
		Content:    content,
		Type:       TypeDirect,
		Date:       now,
		ClientID:   clientID,
		PendingID:  PendingPrefix + clientID,
		Pending:    true,
	}
}

// IsPendingID reports whether id belongs to the local placeholder namespace.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// OutboundMessage is what a client writes to the gateway.
type OutboundMessage struct {
	To       int64       `json:"to"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
}

func NewOutbound(to int64, content, clientID string) OutboundMessage {
	return OutboundMessage{To: to, Content: content, Type: TypeDirect, ClientID: clientID}
}

// ParseOutbound decodes and validates a client payload on the gateway side.
func ParseOutbound(raw []byte) (OutboundMessage, error) {
	var out OutboundMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return OutboundMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if out.To <= 0 {
		return OutboundMessage{}, fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	if out.Type != TypeDirect {
		return OutboundMessage{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, out.Type)
	}
	if strings.TrimSpace(out.Content) == "" {
		return OutboundMessage{}, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return out, nil
}

// ParseMessage decodes a server message and rejects anything that could not
// be placed in a conversation.
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch {
	case m.ID <= 0:
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case m.FromUserID <= 0 || m.ToUserID <= 0:
		return fmt.Errorf("%w: missing participants", ErrInvalidMessage)
	case m.Date.IsZero():
		return fmt.Errorf("%w: missing date", ErrInvalidMessage)
	}
	return nil
}

// Page is the paginated envelope returned by the history endpoint.
type Page struct {
	Content       []Message `json:"content"`
	TotalPages    int       `json:"totalPages"`
	TotalElements int64     `json:"totalElements"`
	Number        int       `json:"number"`
	Size          int       `json:"size"`
}

// NewPage wraps one page of results. total is the size of the whole collection.
func NewPage(content []Message, number, size int, total int64) Page {
	if content == nil {
		content = []Message{}
	}
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return Page{Content: content, TotalPages: pages, TotalElements: total, Number: number, Size: size}
}

// ConversationKey names the conversation between a and b. It is the same
// whichever side asks.
func ConversationKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
