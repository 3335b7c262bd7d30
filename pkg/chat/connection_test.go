package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/campus-chat/pkg/model"
)

// recordingPolicy is a fixed delay that remembers which attempts it was asked about.
type recordingPolicy struct {
	delay    time.Duration
	max      int
	attempts atomic.Int32
}

func (p *recordingPolicy) Next(attempt int) (time.Duration, bool) {
	p.attempts.Add(1)
	if p.max > 0 && attempt > p.max {
		return 0, false
	}
	return p.delay, true
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func newTestManager(t *testing.T, g *testGateway, policy ReconnectPolicy) *Manager {
	t.Helper()
	m := NewManager(g.URL(), StaticToken(tokenFor(t, 1, "ana")), ConnectionOptions{Policy: policy})
	t.Cleanup(m.Disconnect)
	return m
}

func waitConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == Connected }, waitFor, tick)
}

func TestManager_DefaultsToFixedThreeSecondDelay(t *testing.T) {
	m := NewManager("ws://example", nil, ConnectionOptions{})
	assert.Equal(t, FixedDelay{Delay: 3000 * time.Millisecond}, m.policy)
	assert.Equal(t, Disconnected, m.State())
}

func TestManager_ConnectRequiresToken(t *testing.T) {
	g := newTestGateway(t)

	m := NewManager(g.URL(), StaticToken(""), ConnectionOptions{})
	assert.ErrorIs(t, m.Connect(context.Background(), func([]byte) {}), ErrUnauthenticated)

	m = NewManager(g.URL(), StaticToken("not-a-jwt"), ConnectionOptions{})
	assert.ErrorIs(t, m.Connect(context.Background(), func([]byte) {}), ErrUnauthenticated)

	assert.Equal(t, Disconnected, m.State())
	assert.Zero(t, g.accepts.Load())
}

func TestManager_ConnectAndReceive(t *testing.T) {
	g := newTestGateway(t)
	m := newTestManager(t, g, nil)

	frames := make(chan []byte, 4)
	require.NoError(t, m.Connect(context.Background(), func(b []byte) { frames <- b }))
	waitConnected(t, m)

	g.Push(confirmed(1, 2, 1, "welcome", base))
	select {
	case f := <-frames:
		msg, err := model.ParseMessage(f)
		require.NoError(t, err)
		assert.Equal(t, "welcome", msg.Content)
	case <-time.After(waitFor):
		t.Fatal("no frame delivered")
	}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	g := newTestGateway(t)
	m := newTestManager(t, g, nil)

	var first, second atomic.Int32
	require.NoError(t, m.Connect(context.Background(), func([]byte) { first.Add(1) }))
	require.NoError(t, m.Connect(context.Background(), func([]byte) { second.Add(1) }))
	waitConnected(t, m)
	require.NoError(t, m.Connect(context.Background(), func([]byte) { second.Add(1) }))

	g.Push(confirmed(1, 2, 1, "x", base))
	require.Eventually(t, func() bool { return first.Load() == 1 }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), g.accepts.Load())
	assert.Zero(t, second.Load())
}

func TestManager_SendRequiresConnection(t *testing.T) {
	g := newTestGateway(t)
	m := newTestManager(t, g, nil)

	assert.ErrorIs(t, m.Send(2, "hello", "c1"), ErrNotConnected)
	assert.Empty(t, g.Received())
}

func TestManager_SendWritesDirectPayload(t *testing.T) {
	g := newTestGateway(t)
	m := newTestManager(t, g, nil)
	require.NoError(t, m.Connect(context.Background(), func([]byte) {}))
	waitConnected(t, m)

	require.NoError(t, m.Send(2, "is the flat still available?", "c-42"))

	require.Eventually(t, func() bool { return len(g.Received()) == 1 }, waitFor, tick)
	assert.JSONEq(t, `{"to":2,"content":"is the flat still available?","type":"direct","clientId":"c-42"}`,
		string(g.Received()[0]))
}

func TestManager_ReconnectsAfterDropWithSameHandler(t *testing.T) {
	g := newTestGateway(t)
	policy := &recordingPolicy{delay: 30 * time.Millisecond}
	m := newTestManager(t, g, policy)

	var log stateLog
	m.OnStateChange(log.record)

	var received atomic.Int32
	require.NoError(t, m.Connect(context.Background(), func([]byte) { received.Add(1) }))
	waitConnected(t, m)

	g.DropAll()
	require.Eventually(t, func() bool { return g.accepts.Load() == 2 && m.State() == Connected }, waitFor, tick)
	assert.Equal(t, int32(1), policy.attempts.Load())

	g.Push(confirmed(5, 2, 1, "after reconnect", base))
	require.Eventually(t, func() bool { return received.Load() == 1 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load(), "handler must not be registered twice")

	assert.Equal(t, []State{Connecting, Connected, Disconnected, Connecting, Connected}, log.all())
}

func TestManager_RetriesUntilGatewayComesBack(t *testing.T) {
	g := newTestGateway(t)
	g.reject.Store(true)
	policy := &recordingPolicy{delay: 10 * time.Millisecond}
	m := newTestManager(t, g, policy)

	require.NoError(t, m.Connect(context.Background(), func([]byte) {}))
	require.Eventually(t, func() bool { return policy.attempts.Load() >= 3 }, waitFor, tick)
	assert.NotEqual(t, Connected, m.State())

	g.reject.Store(false)
	waitConnected(t, m)
}

func TestManager_GivesUpWhenPolicyExhausted(t *testing.T) {
	g := newTestGateway(t)
	g.reject.Store(true)

	gaveUp := make(chan error, 1)
	m := NewManager(g.URL(), StaticToken(tokenFor(t, 1, "ana")), ConnectionOptions{
		Policy:   &recordingPolicy{delay: 5 * time.Millisecond, max: 2},
		OnGiveUp: func(err error) { gaveUp <- err },
	})
	t.Cleanup(m.Disconnect)

	require.NoError(t, m.Connect(context.Background(), func([]byte) {}))
	select {
	case err := <-gaveUp:
		assert.ErrorIs(t, err, ErrReconnectExhausted)
	case <-time.After(waitFor):
		t.Fatal("manager never gave up")
	}
	assert.Equal(t, Disconnected, m.State())
}

func TestManager_DisconnectCancelsScheduledReconnect(t *testing.T) {
	g := newTestGateway(t)
	policy := &recordingPolicy{delay: 40 * time.Millisecond}
	m := newTestManager(t, g, policy)

	var log stateLog
	m.OnStateChange(log.record)
	require.NoError(t, m.Connect(context.Background(), func([]byte) {}))
	waitConnected(t, m)

	g.DropAll()
	require.Eventually(t, func() bool { return policy.attempts.Load() == 1 }, waitFor, tick)
	m.Disconnect()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), g.accepts.Load())
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Send(2, "x", ""), ErrNotConnected)

	// listeners were cleared by Disconnect
	n := len(log.all())
	require.NoError(t, m.Connect(context.Background(), func([]byte) {}))
	waitConnected(t, m)
	assert.Len(t, log.all(), n)
}

func TestManager_DisconnectClosesSocket(t *testing.T) {
	g := newTestGateway(t)
	m := newTestManager(t, g, &recordingPolicy{delay: 10 * time.Millisecond})

	require.NoError(t, m.Connect(context.Background(), func([]byte) {}))
	waitConnected(t, m)
	m.Disconnect()
	m.Disconnect()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), g.accepts.Load())
	assert.Equal(t, Disconnected, m.State())
}

func TestManager_StaleTransitionIsNotDelivered(t *testing.T) {
	m := NewManager("ws://unused", StaticToken("x"), ConnectionOptions{})
	var log stateLog
	m.OnStateChange(log.record)

	m.mu.Lock()
	connecting := m.setStateLocked(Connecting)
	disconnected := m.setStateLocked(Disconnected)
	m.mu.Unlock()

	disconnected()
	connecting()
	assert.Equal(t, []State{Disconnected}, log.all())
	assert.Equal(t, Disconnected, m.State())
}
