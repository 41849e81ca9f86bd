package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/eth"
	"github.com/somewherelostt/Neom1/internal/pubsub"
	"github.com/somewherelostt/Neom1/rpc"
	"github.com/stretchr/testify/require"
)

// fakeTransport records outbound frames and lets tests inject statuses
// and inbound messages.
type fakeTransport struct {
	mu     sync.Mutex
	status core.ConnectionStatus
	sent   [][]byte
	nextID uint64
	call   func(method string, params interface{}) (rpc.Response, error)

	statuses *pubsub.Topic[core.ConnectionStatus]
	messages *pubsub.Topic[rpc.Message]
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		statuses: pubsub.NewReplayTopic(core.StatusDisconnected),
		messages: pubsub.NewTopic[rpc.Message](),
	}
}

func (f *fakeTransport) Status() core.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) SetStatus(status core.ConnectionStatus) {
	f.mu.Lock()
	if status == f.status || (status == core.StatusAuthenticated && !f.status.Open()) {
		f.mu.Unlock()
		return
	}
	f.status = status
	f.mu.Unlock()
	f.statuses.Publish(status)
}

func (f *fakeTransport) NextID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeTransport) Send(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
}

func (f *fakeTransport) Call(_ context.Context, method string, params interface{}) (rpc.Response, error) {
	f.mu.Lock()
	call := f.call
	f.mu.Unlock()
	if call == nil {
		return rpc.Response{}, core.ErrRequestTimeout
	}
	return call(method, params)
}

func (f *fakeTransport) OnStatus(fn func(core.ConnectionStatus)) func() {
	return f.statuses.Subscribe(fn)
}

func (f *fakeTransport) OnMessage(fn func(rpc.Message)) func() {
	return f.messages.Subscribe(fn)
}

// deliver decodes raw as if it came off the socket.
func (f *fakeTransport) deliver(t *testing.T, raw string) {
	t.Helper()
	msg, err := rpc.Decode([]byte(raw))
	require.NoError(t, err)
	f.messages.Publish(msg)
}

// sentRequest is an outbound frame decoded with its params kept raw.
type sentRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Sig    []string        `json:"sig"`
}

func (f *fakeTransport) requests(t *testing.T) []sentRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentRequest, 0, len(f.sent))
	for _, payload := range f.sent {
		var req sentRequest
		require.NoError(t, json.Unmarshal(payload, &req))
		out = append(out, req)
	}
	return out
}

func (f *fakeTransport) requestsFor(t *testing.T, method string) []sentRequest {
	t.Helper()
	var out []sentRequest
	for _, req := range f.requests(t) {
		if req.Method == method {
			out = append(out, req)
		}
	}
	return out
}

// fakeWallet signs with a real key. When gate is set, signing waits for
// it (or for ctx).
type fakeWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mu      sync.Mutex
	typed   []apitypes.TypedData
	err     error
	gate    chan struct{}
	started chan struct{}
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, address, err := eth.GenerateKey()
	require.NoError(t, err)
	return &fakeWallet{key: key, address: address, started: make(chan struct{}, 8)}
}

func (w *fakeWallet) Address() common.Address {
	return w.address
}

func (w *fakeWallet) SignMessage(_ context.Context, text string) ([]byte, error) {
	return eth.SignText(w.key, text)
}

func (w *fakeWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	w.mu.Lock()
	w.typed = append(w.typed, data)
	gate, err := w.gate, w.err
	w.mu.Unlock()
	w.started <- struct{}{}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return eth.SignTypedData(w.key, data)
}

func (w *fakeWallet) signCalls() []apitypes.TypedData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]apitypes.TypedData(nil), w.typed...)
}

func (w *fakeWallet) waitForSignRequest(t *testing.T) {
	t.Helper()
	select {
	case <-w.started:
	case <-time.After(2 * time.Second):
		t.Fatal("wallet was never asked to sign")
	}
}

// recordingPublisher keeps every session event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.SessionEvent
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, event core.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []core.SessionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.SessionEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// stateLog records every snapshot and fails the test on an inconsistent one.
type stateLog struct {
	t      *testing.T
	mu     sync.Mutex
	states []core.AuthState
}

func (l *stateLog) record(st core.AuthState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !st.Valid() {
		l.t.Errorf("inconsistent snapshot: %+v", st)
	}
	l.states = append(l.states, st)
}

func (l *stateLog) all() []core.AuthState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.AuthState(nil), l.states...)
}
