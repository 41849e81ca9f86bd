package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/ports"
	"github.com/somewherelostt/Neom1/rpc"
)

// SessionSource exposes the current authentication snapshot.
type SessionSource interface {
	State() core.AuthState
}

// BalanceService keeps the ledger balances of the session key current:
// it fetches them once the session authenticates and applies
// balance_update pushes as they arrive.
type BalanceService struct {
	transport ports.Transport
	session   SessionSource
	logger    zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	balances []core.Balance
	detach   []func()
}

// NewBalanceService creates a balance tracker
func NewBalanceService(transport ports.Transport, session SessionSource, logger zerolog.Logger) *BalanceService {
	ctx, stop := context.WithCancel(context.Background())
	return &BalanceService{
		transport: transport,
		session:   session,
		logger:    logger,
		ctx:       ctx,
		stop:      stop,
	}
}

// Start follows the transport for pushes and status changes.
func (s *BalanceService) Start() {
	detachMessages := s.transport.OnMessage(s.handleMessage)
	detachStatus := s.transport.OnStatus(s.handleStatus)

	s.mu.Lock()
	s.detach = append(s.detach, detachMessages, detachStatus)
	s.mu.Unlock()
}

// Close stops following the transport.
func (s *BalanceService) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	s.stop()
}

// Balances returns the cached balances.
func (s *BalanceService) Balances() []core.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Balance(nil), s.balances...)
}

// Fetch asks the network for the session key's balances and replaces the
// cache with the answer.
func (s *BalanceService) Fetch(ctx context.Context) ([]core.Balance, error) {
	st := s.session.State()
	if !st.IsAuthenticated || st.SessionKey == nil {
		return nil, core.ErrNotAuthenticated
	}
	if !s.transport.Status().Open() {
		return nil, core.ErrNotConnected
	}

	resp, err := s.transport.Call(ctx, rpc.MethodGetBalances, map[string]string{
		"address": st.SessionKey.Address.Hex(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w: %v", core.ErrRemote, resp.Error)
	}

	balances, err := parseBalances(resp.Result)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.balances = balances
	s.mu.Unlock()

	s.logger.Debug().Int("assets", len(balances)).Msg("balances fetched")
	return append([]core.Balance(nil), balances...), nil
}

func (s *BalanceService) handleStatus(status core.ConnectionStatus) {
	switch status {
	case core.StatusDisconnected:
		s.mu.Lock()
		s.balances = nil
		s.mu.Unlock()
	case core.StatusAuthenticated:
		go func() {
			if _, err := s.Fetch(s.ctx); err != nil {
				s.logger.Warn().Err(err).Msg("failed to refresh balances")
			}
		}()
	}
}

func (s *BalanceService) handleMessage(msg rpc.Message) {
	if msg.Kind != rpc.KindBalanceUpdate {
		return
	}
	s.mu.Lock()
	s.balances = mergeBalance(s.balances, *msg.Balance)
	s.mu.Unlock()
}

// mergeBalance applies a partial update to the entry for the same asset,
// or appends a new entry.
func mergeBalance(balances []core.Balance, update rpc.BalanceUpdate) []core.Balance {
	for i := range balances {
		if balances[i].Asset != update.Asset {
			continue
		}
		if update.Amount != nil {
			balances[i].Amount = *update.Amount
		}
		if update.Symbol != "" {
			balances[i].Symbol = update.Symbol
		}
		if update.Decimals != nil {
			balances[i].Decimals = *update.Decimals
		}
		return balances
	}

	added := core.Balance{Asset: update.Asset, Symbol: update.Symbol}
	if update.Amount != nil {
		added.Amount = *update.Amount
	}
	if update.Decimals != nil {
		added.Decimals = *update.Decimals
	}
	return append(balances, added)
}

// parseBalances accepts {"balances": [...]} as well as a bare array.
func parseBalances(raw json.RawMessage) ([]core.Balance, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []core.Balance{}, nil
	}

	if raw[0] == '[' {
		var balances []core.Balance
		if err := json.Unmarshal(raw, &balances); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
		}
		return balances, nil
	}

	var wrapped struct {
		Balances []core.Balance `json:"balances"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	if wrapped.Balances == nil {
		return []core.Balance{}, nil
	}
	return wrapped.Balances, nil
}
