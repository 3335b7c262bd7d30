package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/model"
)

const (
	// Time allowed to write a message to the gateway.
	defaultWriteWait = 10 * time.Second

	// Time allowed between two frames (data or ping) from the gateway.
	defaultPongWait = 60 * time.Second

	DefaultReconnectDelay = 3000 * time.Millisecond
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TokenSource returns the current access token, or "" when the user is signed out.
type TokenSource func() string

// StaticToken is a TokenSource for a fixed token.
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

type ConnectionOptions struct {
	Dialer    *websocket.Dialer
	Policy    ReconnectPolicy
	WriteWait time.Duration
	PongWait  time.Duration

	// OnGiveUp is called when Policy stops retrying.
	OnGiveUp func(error)
	Logger   *zap.Logger
}

// Manager owns the single socket to the chat gateway. It is the only thing
// that opens or closes it; everything else sends through it or receives
// from it.
type Manager struct {
	endpoint  string
	tokens    TokenSource
	dialer    *websocket.Dialer
	policy    ReconnectPolicy
	writeWait time.Duration
	pongWait  time.Duration
	onGiveUp  func(error)
	log       *zap.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	onMessage func([]byte)
	listeners map[int]func(State)
	nextID    int
	timer     *time.Timer
	attempt   int
	closed    bool
	runCtx    context.Context
	cancel    context.CancelFunc
	seq       uint64

	notifyMu  sync.Mutex
	delivered uint64

	writeMu sync.Mutex
}

// NewManager creates a manager for endpoint, e.g. "ws://host:8080/ws".
// The token is appended as the last path segment on every dial.
func NewManager(endpoint string, tokens TokenSource, opts ConnectionOptions) *Manager {
	m := &Manager{
		endpoint:  strings.TrimRight(endpoint, "/"),
		tokens:    tokens,
		dialer:    opts.Dialer,
		policy:    opts.Policy,
		writeWait: opts.WriteWait,
		pongWait:  opts.PongWait,
		onGiveUp:  opts.OnGiveUp,
		log:       opts.Logger,
		listeners: make(map[int]func(State)),
	}
	if m.tokens == nil {
		m.tokens = StaticToken("")
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if m.policy == nil {
		m.policy = FixedDelay{Delay: DefaultReconnectDelay}
	}
	if m.writeWait <= 0 {
		m.writeWait = defaultWriteWait
	}
	if m.pongWait <= 0 {
		m.pongWait = defaultPongWait
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn for every state transition. The returned
// function removes it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Connect starts connecting in the background and returns immediately.
// It is a no-op while a connection is being established or is open; the
// handler registered first is the one that keeps receiving messages,
// including across reconnects.
func (m *Manager) Connect(ctx context.Context, onMessage func([]byte)) error {
	if err := m.checkToken(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	if m.onMessage == nil {
		m.onMessage = onMessage
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.runCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := m.runCtx
	m.closed = false
	m.attempt = 0
	m.stopTimerLocked()
	notify := m.setStateLocked(Connecting)
	m.mu.Unlock()

	notify()
	go m.dial(runCtx)
	return nil
}

func (m *Manager) checkToken() error {
	token := m.tokens()
	if token == "" {
		return ErrUnauthenticated
	}
	if _, err := auth.ReadClaims(token); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context) {
	u := m.endpoint + "/" + url.PathEscape(m.tokens())
	conn, _, err := m.dialer.DialContext(ctx, u, nil)

	m.mu.Lock()
	if m.closed || ctx.Err() != nil {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("chat gateway dial failed", zap.String("endpoint", m.endpoint), zap.Error(err))
		notify, giveUp := m.lostLocked(ctx)
		m.mu.Unlock()
		notify()
		m.giveUp(giveUp)
		return
	}

	m.conn = conn
	m.attempt = 0
	notify := m.setStateLocked(Connected)
	m.mu.Unlock()

	m.log.Info("chat gateway connected", zap.String("endpoint", m.endpoint))
	notify()
	go m.readLoop(ctx, conn)
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(m.pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(m.pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(m.writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Warn("chat gateway connection lost", zap.Error(err))
			} else {
				m.log.Debug("chat gateway connection closed", zap.Error(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(m.pongWait))

		m.mu.Lock()
		handler := m.onMessage
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}

	m.mu.Lock()
	if m.conn != conn {
		// torn down by Disconnect
		m.mu.Unlock()
		return
	}
	m.conn = nil
	notify, giveUp := m.lostLocked(ctx)
	m.mu.Unlock()

	conn.Close()
	notify()
	m.giveUp(giveUp)
}

// lostLocked moves to Disconnected and schedules the next attempt.
func (m *Manager) lostLocked(ctx context.Context) (func(), error) {
	notify := m.setStateLocked(Disconnected)
	if m.closed {
		return notify, nil
	}

	m.attempt++
	delay, ok := m.policy.Next(m.attempt)
	if !ok {
		return notify, fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, m.attempt-1)
	}
	m.log.Info("chat gateway reconnect scheduled", zap.Int("attempt", m.attempt), zap.Duration("delay", delay))
	m.timer = time.AfterFunc(delay, func() { m.reconnect(ctx) })
	return notify, nil
}

func (m *Manager) reconnect(ctx context.Context) {
	m.mu.Lock()
	if m.closed || ctx.Err() != nil || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	notify := m.setStateLocked(Connecting)
	m.mu.Unlock()

	notify()
	m.dial(ctx)
}

func (m *Manager) giveUp(err error) {
	if err == nil {
		return
	}
	m.log.Error("chat gateway unreachable", zap.Error(err))
	if m.onGiveUp != nil {
		m.onGiveUp(err)
	}
}

// Send writes a direct message to the gateway without waiting for any
// acknowledgement.
func (m *Manager) Send(to int64, content, clientID string) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(model.NewOutbound(to, content, clientID))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// the read loop notices the broken socket and schedules a reconnect
		conn.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Disconnect closes the socket, cancels any scheduled reconnect and drops
// every registered handler and listener. Safe to call more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	m.onMessage = nil
	notify := m.setStateLocked(Disconnected)
	m.listeners = make(map[int]func(State))
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.writeWait))
		m.writeMu.Unlock()
		conn.Close()
	}
	notify()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setStateLocked records s and returns a function that tells the listeners,
// to be called after the lock is released. A transition that lost the race
// to a newer one is not delivered.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	m.seq++
	seq := m.seq
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return func() {
		m.notifyMu.Lock()
		defer m.notifyMu.Unlock()
		if seq <= m.delivered {
			return
		}
		m.delivered = seq
		for _, fn := range fns {
			fn(s)
		}
	}
}
