package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/campus-chat/pkg/model"
)

const MaxPageSize = 200

// MaxPage bounds how deep a history request may page, which keeps the
// LIMIT of pageWindow well inside int range.
const MaxPage = 10_000

// Conversation is one row of a user's inbox.
type Conversation struct {
	UserID      int64     `json:"userId"`
	OtherUserID int64     `json:"otherUserId"`
	LastUpdated time.Time `json:"lastUpdated"`
	UnreadCount int64     `json:"unreadCount"`
}

// Repository reads and writes direct messages.
type Repository struct {
	session *Session
}

func NewRepository(session *Session) *Repository {
	return &Repository{session: session}
}

// SaveDirect stores msg and bumps both participants' inbox rows and the
// recipient's unread counter.
func (r *Repository) SaveDirect(ctx context.Context, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	key := model.ConversationKey(msg.FromUserID, msg.ToUserID)

	err := r.session.Query(`INSERT INTO direct_messages (conversation_id, id, from_user_id, from_user_name, to_user_id, to_user_name, content, client_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, msg.ID, msg.FromUserID, msg.FromUserName, msg.ToUserID, msg.ToUserName, msg.Content, msg.ClientID, msg.Date).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("save message %d: %w", msg.ID, err)
	}

	q := `INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`
	if err := r.session.Query(q, msg.FromUserID, msg.ToUserID, msg.Date).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("update conversation for %d: %w", msg.FromUserID, err)
	}
	if err := r.session.Query(q, msg.ToUserID, msg.FromUserID, msg.Date).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("update conversation for %d: %w", msg.ToUserID, err)
	}

	// counter updates are not idempotent, so a redelivered message counts twice
	err = r.session.Query(`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`,
		msg.ToUserID, msg.FromUserID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("increment unread for %d: %w", msg.ToUserID, err)
	}
	return nil
}

// Conversation returns one page of the messages exchanged between a and b,
// newest first.
func (r *Repository) Conversation(ctx context.Context, a, b int64, page, size int) (model.Page, error) {
	page, size = normalizePage(page, size)
	skip, limit := pageWindow(page, size)
	key := model.ConversationKey(a, b)

	var total int64
	if err := r.session.Query(`SELECT COUNT(*) FROM direct_messages WHERE conversation_id = ?`, key).
		WithContext(ctx).Scan(&total); err != nil {
		return model.Page{}, fmt.Errorf("count conversation %s: %w", key, err)
	}

	iter := r.session.Query(`SELECT id, from_user_id, from_user_name, to_user_id, to_user_name, content, client_id, created_at FROM direct_messages WHERE conversation_id = ? LIMIT ?`,
		key, limit).WithContext(ctx).PageSize(size).Iter()

	content := make([]model.Message, 0, size)
	var m model.Message
	row := 0
	for iter.Scan(&m.ID, &m.FromUserID, &m.FromUserName, &m.ToUserID, &m.ToUserName, &m.Content, &m.ClientID, &m.Date) {
		row++
		if row <= skip {
			continue
		}
		m.Type = model.TypeDirect
		content = append(content, m)
	}
	if err := iter.Close(); err != nil {
		return model.Page{}, fmt.Errorf("read conversation %s: %w", key, err)
	}
	return model.NewPage(content, page, size, total), nil
}

// Conversations lists the inbox of user with unread counts.
func (r *Repository) Conversations(ctx context.Context, user int64) ([]Conversation, error) {
	iter := r.session.Query(`SELECT user_id, other_user_id, last_updated FROM user_conversations WHERE user_id = ?`, user).
		WithContext(ctx).Iter()

	var out []Conversation
	var c Conversation
	for iter.Scan(&c.UserID, &c.OtherUserID, &c.LastUpdated) {
		c.UnreadCount = 0
		var count int64
		err := r.session.Query(`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`,
			c.UserID, c.OtherUserID).WithContext(ctx).Scan(&count)
		switch {
		case err == nil:
			c.UnreadCount = count
		case err != gocql.ErrNotFound:
			iter.Close()
			return nil, fmt.Errorf("read unread count: %w", err)
		}
		out = append(out, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list conversations for %d: %w", user, err)
	}
	return out, nil
}

// MarkRead resets the unread counter. Counters can only be reset by deleting the row.
func (r *Repository) MarkRead(ctx context.Context, user, other int64) error {
	err := r.session.Query(`DELETE FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`, user, other).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return nil
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size <= 0 {
		size = 50
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// pageWindow maps a page onto a LIMIT query. The table has no offsets, so
// earlier pages are read and skipped.
func pageWindow(page, size int) (skip, limit int) {
	return page * size, (page + 1) * size
}
