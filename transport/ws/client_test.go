package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/clock"
	"github.com/somewherelostt/Neom1/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithoutURL(t *testing.T) {
	c := newTestClient(t, "", clock.Fake(testEpoch))

	err := c.Connect()
	assert.True(t, errors.Is(err, core.ErrEndpointNotConfigured))
	assert.Equal(t, core.StatusDisconnected, c.Status())
}

func TestConnectIsIdempotent(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node.url(), clock.Fake(testEpoch))

	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)
	require.NoError(t, c.Connect())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, node.connections())
}

func TestOnStatusReplaysCurrentStatus(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node.url(), clock.Fake(testEpoch))

	var log statusLog
	unsubscribe := c.OnStatus(log.record)
	assert.Equal(t, []core.ConnectionStatus{core.StatusDisconnected}, log.all())

	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)
	require.Eventually(t, func() bool { return log.count(core.StatusConnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []core.ConnectionStatus{
		core.StatusDisconnected, core.StatusConnecting, core.StatusConnected,
	}, log.all())

	unsubscribe()
	unsubscribe()
	c.SetStatus(core.StatusAuthenticated)
	assert.Len(t, log.all(), 3)
	assert.Equal(t, core.StatusAuthenticated, c.Status())

	var late statusLog
	c.OnStatus(late.record)
	assert.Equal(t, []core.ConnectionStatus{core.StatusAuthenticated}, late.all())
}

func TestSetAuthenticatedRequiresOpenSocket(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1", clock.Fake(testEpoch))

	c.SetStatus(core.StatusAuthenticated)
	assert.Equal(t, core.StatusDisconnected, c.Status())
}

func TestQueuedFramesFlushInOrder(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node.url(), clock.Fake(testEpoch))

	c.Send([]byte(`{"n":1}`))
	c.Send([]byte(`{"n":2}`))
	c.Send([]byte(`{"n":3}`))

	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)
	c.Send([]byte(`{"n":4}`))

	for _, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`} {
		assert.JSONEq(t, want, string(node.next()))
	}
}

func TestCallResolvesByIDAndFansOut(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node.url(), clock.Fake(testEpoch))

	messages := make(chan rpc.Message, 4)
	c.OnMessage(func(m rpc.Message) { messages <- m })

	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	type result struct {
		resp rpc.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Call(context.Background(), rpc.MethodGetBalances, map[string]string{"address": "0xabc"})
		done <- result{resp, err}
	}()

	var req rpc.Request
	require.NoError(t, json.Unmarshal(node.next(), &req))
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, rpc.MethodGetBalances, req.Method)

	node.push(`{"jsonrpc":"2.0","id":` + jsonID(req.ID) + `,"result":[{"asset":"usdc","amount":"10"}]}`)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, req.ID, r.resp.ID)
		assert.JSONEq(t, `[{"asset":"usdc","amount":"10"}]`, string(r.resp.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("call did not resolve")
	}

	select {
	case m := <-messages:
		assert.Equal(t, req.ID, m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("response was not fanned out")
	}
	assert.Zero(t, c.PendingCalls())
}

func TestCallSurfacesRemoteErrors(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node.url(), clock.Fake(testEpoch))
	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), rpc.MethodGetBalances, nil)
		done <- err
	}()

	var req rpc.Request
	require.NoError(t, json.Unmarshal(node.next(), &req))
	node.push(`{"id":` + jsonID(req.ID) + `,"error":{"code":-32000,"message":"unauthorized"}}`)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, core.ErrRemote))
		assert.False(t, errors.Is(err, core.ErrRequestTimeout))
	case <-time.After(2 * time.Second):
		t.Fatal("call did not resolve")
	}
}

func TestCallTimesOutAndIgnoresLateResponse(t *testing.T) {
	node := newFakeNode(t)
	clk := clock.Fake(testEpoch)
	c := newTestClient(t, node.url(), clk)

	messages := make(chan rpc.Message, 4)
	c.OnMessage(func(m rpc.Message) { messages <- m })

	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), rpc.MethodGetBalances, map[string]string{"address": "0xabc"})
		done <- err
	}()

	var req rpc.Request
	require.NoError(t, json.Unmarshal(node.next(), &req))
	clk.BlockUntil(1)
	clk.Advance(30*time.Second - time.Millisecond)
	assert.Equal(t, 1, c.PendingCalls())

	clk.Advance(time.Millisecond)
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, core.ErrRequestTimeout))
		assert.Contains(t, err.Error(), rpc.MethodGetBalances)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
	assert.Zero(t, c.PendingCalls())

	node.push(`{"id":` + jsonID(req.ID) + `,"result":[]}`)
	select {
	case m := <-messages:
		assert.Equal(t, req.ID, m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("late response was not fanned out")
	}
	assert.Zero(t, c.PendingCalls())
}

func TestCallHonoursContext(t *testing.T) {
	c := newTestClient(t, "", clock.Fake(testEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, rpc.MethodGetBalances, nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return c.PendingCalls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("call ignored cancellation")
	}
	assert.Zero(t, c.PendingCalls())
}

func TestCloseFailsPendingCallsAndSuppressesRetry(t *testing.T) {
	node := newFakeNode(t)
	clk := clock.Fake(testEpoch)
	c := newTestClient(t, node.url(), clk)
	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), rpc.MethodGetBalances, nil)
		done <- err
	}()
	node.next()

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, core.ErrTransportClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("call survived close")
	}

	assert.Equal(t, core.StatusDisconnected, c.Status())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, clk.Pending())
	assert.Equal(t, 1, node.connections())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node.url(), clock.Fake(testEpoch))

	messages := make(chan rpc.Message, 4)
	c.OnMessage(func(m rpc.Message) { messages <- m })
	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	node.push(`not json`)
	node.push(`{"method":"auth_challenge","params":{"challenge_message":"c-1"}}`)

	select {
	case m := <-messages:
		assert.Equal(t, rpc.KindChallenge, m.Kind)
		assert.Equal(t, "c-1", m.Challenge.ChallengeMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame was not delivered")
	}
	assert.Equal(t, core.StatusConnected, c.Status())
}

func TestReconnectAfterServerClose(t *testing.T) {
	node := newFakeNode(t)
	clk := clock.Fake(testEpoch)
	c := newTestClient(t, node.url(), clk)
	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	node.drop()
	waitForStatus(t, c, core.StatusDisconnected)
	clk.BlockUntil(1)

	clk.Advance(DefaultReconnectDelay - time.Millisecond)
	assert.Equal(t, 1, node.connections())

	clk.Advance(time.Millisecond)
	waitForStatus(t, c, core.StatusConnected)
	assert.Equal(t, 2, node.connections())
}

func TestReconnectBackoffIsLinearAndCapped(t *testing.T) {
	node := newFakeNode(t)
	url := node.url()
	node.shutdown()

	clk := clock.Fake(testEpoch)
	c := newTestClient(t, url, clk)

	var log statusLog
	c.OnStatus(log.record)

	require.NoError(t, c.Connect())
	for attempt := 1; attempt <= DefaultMaxReconnectAttempts; attempt++ {
		clk.BlockUntil(1)
		delay := DefaultReconnectDelay * time.Duration(attempt)

		clk.Advance(delay - time.Millisecond)
		assert.Equal(t, attempt, log.count(core.StatusConnecting), "attempt %d fired early", attempt)

		clk.Advance(time.Millisecond)
		assert.Equal(t, attempt+1, log.count(core.StatusConnecting), "attempt %d did not fire", attempt)
	}

	require.Eventually(t, func() bool {
		return log.count(core.StatusDisconnected) == DefaultMaxReconnectAttempts+2
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, clk.Pending())
	assert.Equal(t, core.StatusDisconnected, c.Status())

	c.ForceReconnect()
	assert.Equal(t, 1, clk.Pending())
	clk.Advance(DefaultForceReconnectDelay)
	assert.Equal(t, DefaultMaxReconnectAttempts+2, log.count(core.StatusConnecting))

	// The counter was reset, so the next failure schedules the first delay again.
	clk.BlockUntil(1)
	clk.Advance(DefaultReconnectDelay)
	assert.Equal(t, DefaultMaxReconnectAttempts+3, log.count(core.StatusConnecting))
}

func TestForceReconnectReplacesSocket(t *testing.T) {
	node := newFakeNode(t)
	clk := clock.Fake(testEpoch)
	c := newTestClient(t, node.url(), clk)
	require.NoError(t, c.Connect())
	waitForStatus(t, c, core.StatusConnected)

	c.ForceReconnect()
	assert.Equal(t, core.StatusDisconnected, c.Status())

	clk.Advance(DefaultForceReconnectDelay)
	waitForStatus(t, c, core.StatusConnected)
	assert.Equal(t, 2, node.connections())

	// The old socket's close must not schedule a retry.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, clk.Pending())
}

func TestNextIDIsShared(t *testing.T) {
	c := newTestClient(t, "", clock.Fake(testEpoch))

	var wg sync.WaitGroup
	ids := make(chan uint64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- c.NextID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func jsonID(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
