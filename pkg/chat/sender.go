package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/model"
)

const (
	DefaultSettleDelay = 1500 * time.Millisecond

	// echoWindow bounds how far apart an echo without a client id may be
	// from the pending message it confirms.
	echoWindow = 30 * time.Second
)

// Transport is the part of the Manager the sender needs.
type Transport interface {
	Send(to int64, content, clientID string) error
}

// Draft is the compose input of a conversation view.
type Draft struct {
	mu   sync.Mutex
	text string
}

func NewDraft(text string) *Draft { return &Draft{text: text} }

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *Draft) Clear() { d.Set("") }

// Notice is a transient, non-blocking message for the user.
type Notice struct {
	Counterpart int64
	Text        string
	Err         error
}

type outgoing struct {
	msg   model.Message
	timer *time.Timer
}

// Sender runs the optimistic lifecycle of submitted messages:
// pending until the gateway echoes them back (or the settle delay passes),
// rolled back when the socket refuses them.
type Sender struct {
	me        int64
	transport Transport
	store     *Store
	settle    time.Duration
	onNotice  func(Notice)
	log       *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	outstanding map[int64]*outgoing
	closed      bool
}

func NewSender(me int64, transport Transport, store *Store, settle time.Duration, onNotice func(Notice), logger *zap.Logger) *Sender {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onNotice == nil {
		onNotice = func(Notice) {}
	}
	return &Sender{
		me:          me,
		transport:   transport,
		store:       store,
		settle:      settle,
		onNotice:    onNotice,
		log:         logger,
		now:         time.Now,
		outstanding: make(map[int64]*outgoing),
	}
}

// Submit sends the draft to counterpart. Blank drafts are ignored. The
// draft is cleared right away and restored if the send fails.
func (s *Sender) Submit(ctx context.Context, counterpart int64, draft *Draft) error {
	original := draft.Text()
	text := strings.TrimSpace(original)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if _, busy := s.outstanding[counterpart]; busy {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	out := &outgoing{msg: model.NewPending(s.me, counterpart, text, s.now())}
	s.outstanding[counterpart] = out
	s.mu.Unlock()

	draft.Clear()
	if err := s.store.AppendPending(out.msg); err != nil {
		s.forget(counterpart, out)
		draft.Set(original)
		return err
	}

	if err := s.transport.Send(counterpart, text, out.msg.ClientID); err != nil {
		s.forget(counterpart, out)
		s.store.ResolvePending(out.msg.PendingID)
		draft.Set(original)
		s.log.Warn("chat send failed", zap.Int64("to", counterpart), zap.Error(err))
		s.onNotice(Notice{Counterpart: counterpart, Text: "Message not sent, check your connection and try again.", Err: err})
		return err
	}

	s.mu.Lock()
	if s.outstanding[counterpart] == out && !s.closed {
		settleCtx := context.WithoutCancel(ctx)
		out.timer = time.AfterFunc(s.settle, func() { s.settleTimeout(settleCtx, counterpart, out) })
	}
	s.mu.Unlock()
	return nil
}

// InFlight reports whether a submission to counterpart is still pending.
func (s *Sender) InFlight(counterpart int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.outstanding[counterpart]
	return ok
}

// HandleEcho confirms the pending message that msg is the server copy of.
func (s *Sender) HandleEcho(msg model.Message) {
	if msg.FromUserID != s.me {
		return
	}

	s.mu.Lock()
	out := s.outstanding[msg.ToUserID]
	if out == nil || !echoes(msg, out.msg) {
		s.mu.Unlock()
		return
	}
	delete(s.outstanding, msg.ToUserID)
	if out.timer != nil {
		out.timer.Stop()
	}
	s.mu.Unlock()

	s.store.ResolvePending(out.msg.PendingID)
	s.log.Debug("chat message confirmed", zap.Int64("id", msg.ID), zap.String("client_id", out.msg.ClientID))
}

func echoes(msg, pending model.Message) bool {
	if msg.ClientID != "" {
		return msg.ClientID == pending.ClientID
	}
	gap := msg.Date.Sub(pending.Date)
	if gap < 0 {
		gap = -gap
	}
	return msg.Content == pending.Content && gap <= echoWindow
}

// settleTimeout is the fallback when no echo arrived in time: drop the
// placeholder and let history supply the server copy.
func (s *Sender) settleTimeout(ctx context.Context, counterpart int64, out *outgoing) {
	if !s.forget(counterpart, out) {
		return
	}
	s.store.ResolvePending(out.msg.PendingID)

	if s.store.Counterpart() != counterpart {
		return
	}
	if err := s.store.Load(ctx, s.me, counterpart); err != nil && !errors.Is(err, ErrStaleLoad) {
		s.log.Warn("chat reload after send failed", zap.Int64("counterpart", counterpart), zap.Error(err))
	}
}

func (s *Sender) forget(counterpart int64, out *outgoing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding[counterpart] != out {
		return false
	}
	delete(s.outstanding, counterpart)
	return true
}

// Close stops every settle timer. Pending placeholders stay in the store
// until the store itself is reset.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for counterpart, out := range s.outstanding {
		if out.timer != nil {
			out.timer.Stop()
		}
		delete(s.outstanding, counterpart)
	}
}
