package chat

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/model"
)

// Dispatcher turns raw socket frames into messages and hands the ones that
// belong to the open conversation to its subscribers.
type Dispatcher struct {
	me  int64
	log *zap.Logger

	mu     sync.Mutex
	active int64
	subs   map[int]func(model.Message)
	nextID int
}

func NewDispatcher(me int64, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{me: me, log: logger, subs: make(map[int]func(model.Message))}
}

// SetActive selects the counterpart whose messages are delivered. Zero
// means no conversation is open.
func (d *Dispatcher) SetActive(counterpart int64) {
	d.mu.Lock()
	d.active = counterpart
	d.mu.Unlock()
}

func (d *Dispatcher) Active() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) Subscribe(fn func(model.Message)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Reset drops every subscriber and closes the active conversation.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.active = 0
	d.subs = make(map[int]func(model.Message))
	d.mu.Unlock()
}

// HandleInbound is the Manager's message handler. Malformed frames are
// logged and dropped.
func (d *Dispatcher) HandleInbound(raw []byte) {
	if _, err := d.Dispatch(raw); err != nil {
		d.log.Warn("dropping inbound chat frame", zap.Error(err), zap.ByteString("frame", truncate(raw, 256)))
	}
}

// Dispatch parses raw and delivers it if relevant. It reports whether the
// message reached the subscribers.
func (d *Dispatcher) Dispatch(raw []byte) (bool, error) {
	msg, err := model.ParseMessage(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	d.mu.Lock()
	active := d.active
	subs := make([]func(model.Message), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	if active == 0 || !msg.Involves(d.me, active) {
		d.log.Debug("inbound message outside open conversation",
			zap.Int64("id", msg.ID), zap.Int64("from", msg.FromUserID), zap.Int64("to", msg.ToUserID))
		return false, nil
	}

	for _, fn := range subs {
		fn(msg)
	}
	return true, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
