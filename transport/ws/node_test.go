package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/clock"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeNode is a ClearNode stand-in that records every inbound frame.
type fakeNode struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	frames   chan []byte

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{t: t, frames: make(chan []byte, 64)}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.shutdown)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.conns = append(n.conns, conn)
	n.accepted++
	n.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		n.frames <- data
	}
}

func (n *fakeNode) connections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accepted
}

// push writes a frame on the most recent connection.
func (n *fakeNode) push(payload string) {
	n.t.Helper()
	n.mu.Lock()
	require.NotEmpty(n.t, n.conns, "no client connected")
	conn := n.conns[len(n.conns)-1]
	n.mu.Unlock()
	require.NoError(n.t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// next returns the next frame the client sent.
func (n *fakeNode) next() []byte {
	n.t.Helper()
	select {
	case frame := <-n.frames:
		return frame
	case <-time.After(2 * time.Second):
		n.t.Fatal("no frame received")
		return nil
	}
}

// drop closes every accepted connection from the server side.
func (n *fakeNode) drop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, conn := range n.conns {
		_ = conn.Close()
	}
	n.conns = nil
}

func (n *fakeNode) shutdown() {
	n.drop()
	n.server.Close()
}

// statusLog records every status a client broadcasts.
type statusLog struct {
	mu      sync.Mutex
	entries []core.ConnectionStatus
}

func (l *statusLog) record(s core.ConnectionStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *statusLog) count(s core.ConnectionStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e == s {
			n++
		}
	}
	return n
}

func (l *statusLog) all() []core.ConnectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.ConnectionStatus(nil), l.entries...)
}

func newTestClient(t *testing.T, url string, clk *clock.FakeClock) *Client {
	t.Helper()
	logger := zerolog.Nop()
	c := NewClient(Config{URL: url, Clock: clk, Logger: &logger})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitForStatus(t *testing.T, c *Client, want core.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want },
		2*time.Second, 5*time.Millisecond, "status never became %s", want)
}
