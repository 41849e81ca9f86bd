// Package ws is the WebSocket connection manager for a ClearNode: it keeps
// one socket open with bounded linear backoff, queues frames while down,
// correlates request ids with responses, and fans every inbound message
// out to listeners.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/clock"
	"github.com/somewherelostt/Neom1/internal/logging"
	"github.com/somewherelostt/Neom1/internal/pubsub"
	"github.com/somewherelostt/Neom1/ports"
	"github.com/somewherelostt/Neom1/rpc"
)

type callResult struct {
	resp rpc.Response
	err  error
}

type pendingCall struct {
	method string
	done   chan callResult
	timer  clock.Timer
}

// Client implements ports.Transport over gorilla/websocket.
//
// Lock order is emit then mu. emit serialises status transitions with
// their broadcast, so listeners observe statuses in the order they were
// set. Status listeners must not call Connect, Close, ForceReconnect or
// SetStatus synchronously.
type Client struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	dialer *websocket.Dialer

	emit sync.Mutex

	mu         sync.Mutex
	status     core.ConnectionStatus
	conn       *websocket.Conn
	generation uint64
	attempts   int
	manual     bool
	queue      [][]byte
	pending    map[uint64]*pendingCall
	retry      clock.Timer

	nextID atomic.Uint64

	statuses *pubsub.Topic[core.ConnectionStatus]
	messages *pubsub.Topic[rpc.Message]
}

var _ ports.Transport = (*Client)(nil)

// NewClient creates a disconnected client. Nothing is dialled until Connect.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()

	logger := logging.New("transport")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		status:   core.StatusDisconnected,
		pending:  make(map[uint64]*pendingCall),
		statuses: pubsub.NewReplayTopic(core.StatusDisconnected),
		messages: pubsub.NewTopic[rpc.Message](),
	}
}

// Status returns the current connection status.
func (c *Client) Status() core.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus overrides the advertised status. Authenticated is only
// accepted while the socket is open.
func (c *Client) SetStatus(status core.ConnectionStatus) {
	c.emit.Lock()
	defer c.emit.Unlock()

	c.mu.Lock()
	if status == c.status || (status == core.StatusAuthenticated && !c.status.Open()) {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.statuses.Publish(status)
}

// Connect dials the endpoint in the background. It is a no-op unless the
// client is Disconnected.
func (c *Client) Connect() error {
	c.emit.Lock()
	defer c.emit.Unlock()

	c.mu.Lock()
	if c.status != core.StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	if c.cfg.URL == "" {
		c.mu.Unlock()
		c.logger.Warn().Msg("websocket endpoint is not configured")
		return core.ErrEndpointNotConfigured
	}
	c.stopRetryLocked()
	c.generation++
	gen := c.generation
	c.status = core.StatusConnecting
	c.mu.Unlock()

	c.statuses.Publish(core.StatusConnecting)
	go c.dial(gen)
	return nil
}

// ForceReconnect drops the current socket, resets the backoff and connects
// again after ForceReconnectDelay.
func (c *Client) ForceReconnect() {
	c.emit.Lock()
	defer c.emit.Unlock()

	c.mu.Lock()
	c.attempts = 0
	c.manual = false
	c.stopRetryLocked()
	conn := c.teardownLocked()
	changed := c.status != core.StatusDisconnected
	c.status = core.StatusDisconnected
	c.retry = c.clock.AfterFunc(c.cfg.ForceReconnectDelay, c.reconnect)
	c.mu.Unlock()

	c.logger.Info().Dur("delay", c.cfg.ForceReconnectDelay).Msg("forcing reconnect")
	closeConn(conn)
	if changed {
		c.statuses.Publish(core.StatusDisconnected)
	}
}

// Close disconnects without scheduling a reconnect and fails every pending call.
func (c *Client) Close() error {
	c.emit.Lock()
	defer c.emit.Unlock()

	c.mu.Lock()
	c.manual = true
	c.stopRetryLocked()
	conn := c.teardownLocked()
	c.queue = nil
	changed := c.status != core.StatusDisconnected
	c.status = core.StatusDisconnected
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, callResult{err: core.ErrTransportClosed})
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		closeConn(conn)
	}
	if changed {
		c.statuses.Publish(core.StatusDisconnected)
	}
	return nil
}

// NextID reserves a request id.
func (c *Client) NextID() uint64 {
	return c.nextID.Add(1)
}

// Send writes payload now if the socket is open, otherwise queues it for
// the next successful open.
func (c *Client) Send(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.status.Open() {
		c.queue = append(c.queue, payload)
		return
	}
	if err := c.writeLocked(payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to write frame")
	}
}

// Call sends a request and waits for the response with the same id, the
// request deadline, ctx cancellation or Close, whichever comes first. A
// JSON-RPC error response is returned together with an error wrapping
// core.ErrRemote.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (rpc.Response, error) {
	id := c.NextID()
	payload, err := rpc.NewRequest(id, method, params).Marshal()
	if err != nil {
		return rpc.Response{}, err
	}

	call := &pendingCall{method: method, done: make(chan callResult, 1)}
	c.mu.Lock()
	c.pending[id] = call
	call.timer = c.clock.AfterFunc(c.cfg.RequestTimeout, func() {
		c.settle(id, callResult{err: fmt.Errorf("%s: %w", method, core.ErrRequestTimeout)})
	})
	c.mu.Unlock()

	c.Send(payload)

	var res callResult
	select {
	case res = <-call.done:
	case <-ctx.Done():
		c.settle(id, callResult{err: ctx.Err()})
		res = <-call.done
	}

	if res.err != nil {
		return res.resp, res.err
	}
	if res.resp.Error != nil {
		return res.resp, fmt.Errorf("%s: %w: %v", method, core.ErrRemote, res.resp.Error)
	}
	return res.resp, nil
}

// PendingCalls returns the number of calls awaiting a response.
func (c *Client) PendingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// OnStatus registers fn and calls it with the current status before returning.
func (c *Client) OnStatus(fn func(core.ConnectionStatus)) func() {
	return c.statuses.Subscribe(fn)
}

// OnMessage registers fn for every decoded inbound message.
func (c *Client) OnMessage(fn func(rpc.Message)) func() {
	return c.messages.Subscribe(fn)
}

func (c *Client) dial(gen uint64) {
	conn, _, err := c.dialer.DialContext(context.Background(), c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("failed to connect")
		c.handleClose(gen, err)
		return
	}

	c.emit.Lock()
	c.mu.Lock()
	if gen != c.generation || c.manual {
		c.mu.Unlock()
		c.emit.Unlock()
		closeConn(conn)
		return
	}
	c.conn = conn
	c.status = core.StatusConnected
	c.attempts = 0
	queued := c.queue
	c.queue = nil
	for _, payload := range queued {
		if err := c.writeLocked(payload); err != nil {
			c.logger.Warn().Err(err).Msg("failed to flush queued frame")
		}
	}
	c.mu.Unlock()

	c.logger.Info().Str("url", c.cfg.URL).Int("flushed", len(queued)).Msg("connected")
	c.statuses.Publish(core.StatusConnected)
	c.emit.Unlock()

	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		msg, err := rpc.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping inbound frame")
			continue
		}
		if msg.HasID {
			c.settle(msg.ID, callResult{resp: msg.Response()})
		}
		c.messages.Publish(msg)
	}
}

// handleClose reacts to the end of connection gen. Events from a
// connection that was already replaced are ignored.
func (c *Client) handleClose(gen uint64, cause error) {
	c.emit.Lock()
	defer c.emit.Unlock()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.teardownLocked()
	changed := c.status != core.StatusDisconnected
	c.status = core.StatusDisconnected

	var delay time.Duration
	attempt, exhausted := c.attempts, false
	if !c.manual {
		c.attempts++
		attempt = c.attempts
		if c.attempts <= c.cfg.MaxReconnectAttempts {
			delay = c.cfg.ReconnectDelay * time.Duration(c.attempts)
			c.retry = c.clock.AfterFunc(delay, c.reconnect)
		} else {
			exhausted = true
		}
	}
	c.mu.Unlock()

	closeConn(conn)
	switch {
	case exhausted:
		c.logger.Warn().AnErr("cause", cause).Int("attempts", attempt-1).Msg("disconnected, giving up until forced reconnect")
	case delay > 0:
		c.logger.Info().AnErr("cause", cause).Int("attempt", attempt).Dur("delay", delay).Msg("disconnected, reconnect scheduled")
	default:
		c.logger.Info().AnErr("cause", cause).Msg("disconnected")
	}
	if changed {
		c.statuses.Publish(core.StatusDisconnected)
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.retry = nil
	manual := c.manual
	c.mu.Unlock()

	if manual {
		return
	}
	if err := c.Connect(); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect skipped")
	}
}

// settle completes call id exactly once.
func (c *Client) settle(id uint64, res callResult) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.done <- res
}

func (c *Client) writeLocked(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// teardownLocked invalidates the current connection and returns it for
// closing outside the lock.
func (c *Client) teardownLocked() *websocket.Conn {
	c.generation++
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func closeConn(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}
