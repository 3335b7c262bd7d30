package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/model"
)

const DefaultPageSize = 50

// HistoryFetcher reads one page of a conversation from the api.
type HistoryFetcher interface {
	Conversation(ctx context.Context, me, counterpart int64, page, size int) (model.Page, error)
}

// Store holds the open conversation, oldest message first.
type Store struct {
	history  HistoryFetcher
	pageSize int
	log      *zap.Logger

	mu          sync.Mutex
	me          int64
	counterpart int64
	messages    []model.Message
	generation  uint64
	listeners   map[int]func([]model.Message)
	nextID      int
	seq         uint64

	notifyMu  sync.Mutex
	delivered uint64
}

func NewStore(history HistoryFetcher, pageSize int, logger *zap.Logger) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		history:   history,
		pageSize:  pageSize,
		log:       logger,
		listeners: make(map[int]func([]model.Message)),
	}
}

// OnChange registers fn to receive a snapshot after every mutation. fn must
// not mutate the store.
func (s *Store) OnChange(fn func([]model.Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) Counterpart() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Messages returns a copy of the conversation.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Load replaces the conversation with the first history page for the pair.
// Only the most recently started load may commit; older ones return
// ErrStaleLoad. Confirmed messages already shown are merged with the page,
// and pending messages that history does not know about yet are kept at the
// end.
func (s *Store) Load(ctx context.Context, me, counterpart int64) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	var notify func()
	if s.me != me || s.counterpart != counterpart {
		s.me, s.counterpart = me, counterpart
		s.messages = nil
		notify = s.changedLocked()
	}
	s.mu.Unlock()
	if notify != nil {
		notify()
	}

	page, err := s.history.Conversation(ctx, me, counterpart, 0, s.pageSize)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrStaleLoad
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Error("chat history load failed",
			zap.Int64("counterpart", counterpart), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrHistoryFetchFailed, err)
	}

	loaded := make([]model.Message, 0, len(page.Content)+len(s.messages))
	seen := make(map[int64]struct{}, len(page.Content))
	confirmed := make(map[string]struct{})
	for _, msg := range page.Content {
		if err := msg.Validate(); err != nil || !msg.Involves(me, counterpart) {
			s.log.Warn("skipping history entry", zap.Int64("id", msg.ID), zap.Error(err))
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		if msg.ClientID != "" {
			confirmed[msg.ClientID] = struct{}{}
		}
		loaded = append(loaded, msg)
	}
	// Live messages that arrived while the page was in flight, or that the
	// server has not persisted yet, survive the reload.
	for _, msg := range s.messages {
		if msg.Pending {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		if msg.ClientID != "" {
			confirmed[msg.ClientID] = struct{}{}
		}
		loaded = append(loaded, msg)
	}
	slices.SortStableFunc(loaded, func(a, b model.Message) int {
		return a.Date.Compare(b.Date)
	})
	for _, msg := range s.messages {
		if !msg.Pending {
			continue
		}
		if _, ok := confirmed[msg.ClientID]; ok {
			continue
		}
		loaded = append(loaded, msg)
	}
	s.messages = loaded
	notify = s.changedLocked()
	s.mu.Unlock()

	notify()
	return nil
}

// AppendIncoming adds a confirmed message. A message whose id is already
// present is ignored. A pending entry carrying the same client id is
// replaced by it.
func (s *Store) AppendIncoming(msg model.Message) bool {
	if msg.Pending {
		return false
	}

	s.mu.Lock()
	if s.counterpart == 0 || !msg.Involves(s.me, s.counterpart) {
		s.mu.Unlock()
		return false
	}
	for _, existing := range s.messages {
		if !existing.Pending && existing.ID == msg.ID {
			s.mu.Unlock()
			return false
		}
	}
	if msg.ClientID != "" {
		s.messages = slices.DeleteFunc(s.messages, func(m model.Message) bool {
			return m.Pending && m.ClientID == msg.ClientID
		})
	}

	// Confirmed messages normally arrive in order; walk back from the end
	// for the rare one that does not.
	i := len(s.messages)
	for i > 0 && s.messages[i-1].Date.After(msg.Date) {
		i--
	}
	s.messages = slices.Insert(s.messages, i, msg)
	notify := s.changedLocked()
	s.mu.Unlock()

	notify()
	return true
}

// AppendPending shows a locally authored message before the server has it.
func (s *Store) AppendPending(msg model.Message) error {
	if !msg.Pending || !model.IsPendingID(msg.PendingID) {
		return errors.New("chat: not a pending message")
	}

	s.mu.Lock()
	for _, existing := range s.messages {
		if existing.Pending && existing.PendingID == msg.PendingID {
			s.mu.Unlock()
			return nil
		}
	}
	s.messages = append(s.messages, msg)
	notify := s.changedLocked()
	s.mu.Unlock()

	notify()
	return nil
}

// ResolvePending removes a placeholder. It reports whether one was removed.
func (s *Store) ResolvePending(pendingID string) bool {
	s.mu.Lock()
	before := len(s.messages)
	s.messages = slices.DeleteFunc(s.messages, func(m model.Message) bool {
		return m.Pending && m.PendingID == pendingID
	})
	if len(s.messages) == before {
		s.mu.Unlock()
		return false
	}
	notify := s.changedLocked()
	s.mu.Unlock()

	notify()
	return true
}

// Reset discards the conversation and invalidates loads in flight.
func (s *Store) Reset() {
	s.mu.Lock()
	s.generation++
	s.me, s.counterpart = 0, 0
	s.messages = nil
	notify := s.changedLocked()
	s.mu.Unlock()

	notify()
}

// changedLocked captures a snapshot for the listeners. The returned function
// must run after mu is released; a snapshot older than one already delivered
// is dropped, so listeners always end on the latest state.
func (s *Store) changedLocked() func() {
	s.seq++
	seq := s.seq
	snapshot := slices.Clone(s.messages)
	fns := make([]func([]model.Message), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		if seq <= s.delivered {
			return
		}
		s.delivered = seq
		for _, fn := range fns {
			fn(snapshot)
		}
	}
}
