package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/campus-chat/pkg/auth"
	"github.com/mahaj/campus-chat/pkg/model"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testIssuer = auth.NewIssuer("test-secret", time.Hour)

func tokenFor(t *testing.T, userID int64, name string) string {
	t.Helper()
	token, err := testIssuer.GenerateToken(userID, name)
	require.NoError(t, err)
	return token
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testGateway is a minimal websocket peer speaking the gateway protocol.
type testGateway struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received [][]byte

	writeMu sync.Mutex
	accepts atomic.Int32
	reject  atomic.Bool
	echo    atomic.Bool
	dropIDs atomic.Bool
	nextID  atomic.Int64
}

func newTestGateway(t *testing.T) *testGateway {
	g := &testGateway{t: t}
	g.nextID.Store(1000)
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.shutdown)
	return g
}

func (g *testGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
}

func (g *testGateway) serve(w http.ResponseWriter, r *http.Request) {
	if g.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/ws/")
	claims, err := testIssuer.ValidateToken(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.accepts.Add(1)
	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.received = append(g.received, data)
		g.mu.Unlock()

		if !g.echo.Load() {
			continue
		}
		out, err := model.ParseOutbound(data)
		if err != nil {
			continue
		}
		reply := model.Message{
			ID:         g.nextID.Add(1),
			FromUserID: claims.UserID,
			ToUserID:   out.To,
			Content:    out.Content,
			Type:       model.TypeDirect,
			Date:       time.Now().UTC(),
			ClientID:   out.ClientID,
		}
		if g.dropIDs.Load() {
			reply.ClientID = ""
		}
		g.write(conn, reply)
	}
}

func (g *testGateway) write(conn *websocket.Conn, msg model.Message) {
	data, err := json.Marshal(msg)
	require.NoError(g.t, err)
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// Push sends msg to every open client connection.
func (g *testGateway) Push(msg model.Message) {
	g.mu.Lock()
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()
	for _, c := range conns {
		g.write(c, msg)
	}
}

func (g *testGateway) PushRaw(data []byte) {
	g.mu.Lock()
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	for _, c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

// DropAll closes every connection without a close frame.
func (g *testGateway) DropAll() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (g *testGateway) Received() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]byte(nil), g.received...)
}

func (g *testGateway) shutdown() {
	g.DropAll()
	g.srv.Close()
}

// fakeHistory is a testify mock for the history endpoint.
type fakeHistory struct {
	mock.Mock
}

func (f *fakeHistory) Conversation(ctx context.Context, me, counterpart int64, page, size int) (model.Page, error) {
	args := f.Called(ctx, me, counterpart, page, size)
	return args.Get(0).(model.Page), args.Error(1)
}

// stubHistory serves whatever pages are configured per counterpart.
type stubHistory struct {
	mu    sync.Mutex
	pages map[int64][]model.Message
	calls atomic.Int32
}

func newStubHistory() *stubHistory {
	return &stubHistory{pages: make(map[int64][]model.Message)}
}

func (s *stubHistory) Set(counterpart int64, msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[counterpart] = msgs
}

func (s *stubHistory) Conversation(_ context.Context, _, counterpart int64, page, size int) (model.Page, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append([]model.Message(nil), s.pages[counterpart]...)
	return model.NewPage(msgs, page, size, int64(len(msgs))), nil
}

func confirmed(id, from, to int64, content string, at time.Time) model.Message {
	return model.Message{ID: id, FromUserID: from, ToUserID: to, Content: content, Type: model.TypeDirect, Date: at}
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
