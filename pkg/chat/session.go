package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/model"
)

const noticeBuffer = 16

// Session wires one Manager, Dispatcher, Store and Sender together for a
// signed-in user.
type Session struct {
	me     int64
	name   string
	conn   *Manager
	disp   *Dispatcher
	store  *Store
	sender *Sender
	log    *zap.Logger

	notices chan Notice

	mu          sync.Mutex
	connectedAt int
	unsubs      []func()
	started     bool
	closed      bool
}

// SessionDeps lets callers replace collaborators, mainly in tests.
type SessionDeps struct {
	History    HistoryFetcher
	HTTPClient *http.Client
	Dialer     ConnectionOptions
	Logger     *zap.Logger
}

// NewSession builds a session for the token's user.
func NewSession(cfg config.ClientConfig, deps SessionDeps) (*Session, error) {
	claims, err := auth.ReadClaims(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int64("user_id", claims.UserID))
	tokens := StaticToken(cfg.Token)

	s := &Session{
		me:      claims.UserID,
		name:    claims.UserName,
		log:     logger,
		notices: make(chan Notice, noticeBuffer),
	}

	history := deps.History
	if history == nil {
		history = NewHistoryClient(cfg.APIURL, tokens, deps.HTTPClient)
	}

	opts := deps.Dialer
	opts.Logger = logger.Named("connection")
	if opts.Policy == nil {
		opts.Policy = PolicyFromConfig(cfg)
	}
	opts.OnGiveUp = func(err error) {
		s.notify(Notice{Text: "Chat is offline. Messages cannot be sent right now.", Err: err})
	}

	s.conn = NewManager(cfg.GatewayURL, tokens, opts)
	s.disp = NewDispatcher(s.me, logger.Named("dispatcher"))
	s.store = NewStore(history, cfg.PageSize, logger.Named("store"))
	s.sender = NewSender(s.me, s.conn, s.store, cfg.SettleDelay, s.notify, logger.Named("sender"))
	return s, nil
}

// PolicyFromConfig picks the reconnect policy the client config asks for.
func PolicyFromConfig(cfg config.ClientConfig) ReconnectPolicy {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if !cfg.BackoffEnabled {
		return FixedDelay{Delay: delay}
	}
	return ExponentialBackoff{
		Base:        delay,
		Max:         cfg.BackoffMax,
		Multiplier:  2,
		Jitter:      0.2,
		MaxAttempts: cfg.BackoffMaxAttempts,
	}
}

func (s *Session) UserID() int64 { return s.me }

func (s *Session) UserName() string { return s.name }

func (s *Session) State() State { return s.conn.State() }

// Notices delivers transient notices. Notices are dropped while the buffer is full.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Messages returns the open conversation.
func (s *Session) Messages() []model.Message { return s.store.Messages() }

// OnChange forwards store snapshots to fn.
func (s *Session) OnChange(fn func([]model.Message)) func() { return s.store.OnChange(fn) }

// OnStateChange forwards connection transitions to fn.
func (s *Session) OnStateChange(fn func(State)) func() { return s.conn.OnStateChange(fn) }

// Start subscribes the store and sender to inbound messages and connects.
// Later calls are no-ops.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrTransportClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.unsubs = append(s.unsubs,
		s.disp.Subscribe(func(msg model.Message) {
			s.store.AppendIncoming(msg)
			s.sender.HandleEcho(msg)
		}),
		s.conn.OnStateChange(func(st State) { s.onState(ctx, st) }),
	)
	s.mu.Unlock()

	return s.conn.Connect(ctx, s.disp.HandleInbound)
}

// onState reloads the open conversation after a reconnect, since anything
// sent while the socket was down never reached us.
func (s *Session) onState(ctx context.Context, st State) {
	if st != Connected {
		return
	}
	s.mu.Lock()
	s.connectedAt++
	first := s.connectedAt == 1
	s.mu.Unlock()

	counterpart := s.store.Counterpart()
	if first || counterpart == 0 {
		return
	}
	go func() {
		if err := s.store.Load(context.WithoutCancel(ctx), s.me, counterpart); err != nil && !errors.Is(err, ErrStaleLoad) {
			s.log.Warn("resync after reconnect failed", zap.Error(err))
		}
	}()
}

// Open makes counterpart the active conversation and loads its history.
func (s *Session) Open(ctx context.Context, counterpart int64) error {
	if counterpart <= 0 || counterpart == s.me {
		return fmt.Errorf("chat: invalid counterpart %d", counterpart)
	}
	s.disp.SetActive(counterpart)
	err := s.store.Load(ctx, s.me, counterpart)
	if errors.Is(err, ErrStaleLoad) {
		return nil
	}
	if err != nil {
		s.notify(Notice{Counterpart: counterpart, Text: "Could not load this conversation.", Err: err})
	}
	return err
}

// Leave discards the open conversation.
func (s *Session) Leave() {
	s.disp.SetActive(0)
	s.store.Reset()
}

// Submit sends the draft to the open conversation.
func (s *Session) Submit(ctx context.Context, draft *Draft) error {
	counterpart := s.store.Counterpart()
	if counterpart == 0 {
		return errors.New("chat: no open conversation")
	}
	return s.sender.Submit(ctx, counterpart, draft)
}

// Close stops timers and closes the connection.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	s.sender.Close()
	s.conn.Disconnect()
	s.disp.Reset()
	s.store.Reset()
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Debug("notice dropped", zap.String("text", n.Text))
	}
}

// waitState blocks until the connection reaches want or ctx ends.
func (s *Session) waitState(ctx context.Context, want State) error {
	ch := make(chan struct{}, 1)
	unsub := s.conn.OnStateChange(func(st State) {
		if st == want {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()
	if s.conn.State() == want {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitConnected blocks until the socket is open or timeout passes.
func (s *Session) WaitConnected(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.waitState(ctx, Connected); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}
