package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/clock"
	"github.com/somewherelostt/Neom1/internal/eth"
	"github.com/somewherelostt/Neom1/internal/pubsub"
	"github.com/somewherelostt/Neom1/ports"
	"github.com/somewherelostt/Neom1/rpc"
)

const (
	DefaultAppName         = "NEOM"
	DefaultScope           = "neom-app.com"
	DefaultSessionDuration = time.Hour
	DefaultSignTimeout     = 2 * time.Minute
)

var errSignAbandoned = errors.New("signing round abandoned")

// AuthConfig holds the values the network sees during the handshake.
type AuthConfig struct {
	AppName         string
	Scope           string
	SessionDuration time.Duration
	SignTimeout     time.Duration
}

func (c AuthConfig) withDefaults() AuthConfig {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.SessionDuration <= 0 {
		c.SessionDuration = DefaultSessionDuration
	}
	if c.SignTimeout <= 0 {
		c.SignTimeout = DefaultSignTimeout
	}
	return c
}

// AuthService drives the session-key handshake with a ClearNode: it asks
// for a challenge once a wallet and an open connection are both present,
// has the wallet sign the delegation policy, and tracks the outcome.
//
// A handshake starts on Start, on SetWallet, on Reset and whenever the
// transport opens a connection. A rejected or failed attempt waits for
// the next of those.
type AuthService struct {
	cfg       AuthConfig
	transport ports.Transport
	keys      *KeyStore
	eventPub  ports.EventPublisher
	clock     clock.Clock
	logger    zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc

	// emit orders transitions with their broadcast. Taken before mu.
	emit sync.Mutex

	mu         sync.Mutex
	state      core.AuthState
	wallet     ports.Wallet
	credential core.Credential
	lastStatus core.ConnectionStatus
	started    bool
	detach     []func()

	// round identifies the current signing attempt. Anything that
	// invalidates an attempt bumps it, so late signatures are dropped.
	round      uint64
	requestID  uint64
	verifyID   uint64
	cancelSign context.CancelCauseFunc
	signTimer  clock.Timer

	states *pubsub.Topic[core.AuthState]
}

// NewAuthService creates an orchestrator. eventPub may be nil.
func NewAuthService(
	cfg AuthConfig,
	transport ports.Transport,
	keys *KeyStore,
	eventPub ports.EventPublisher,
	clk clock.Clock,
	logger zerolog.Logger,
) *AuthService {
	if clk == nil {
		clk = clock.Real()
	}
	initial := core.AuthState{Phase: core.PhaseIdle}
	ctx, stop := context.WithCancel(context.Background())

	return &AuthService{
		cfg:       cfg.withDefaults(),
		transport: transport,
		keys:      keys,
		eventPub:  eventPub,
		clock:     clk,
		logger:    logger,
		ctx:       ctx,
		stop:      stop,
		state:     initial,
		states:    pubsub.NewReplayTopic(initial),
	}
}

// Start loads the session key and the stored credential, then follows the
// transport. Calling it again has no effect.
func (s *AuthService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	key := s.keys.LoadOrCreate(ctx)
	cred, ok := s.keys.Credential(ctx)

	s.transition(func(st *core.AuthState) (bool, func()) {
		st.SessionKey = key
		if ok {
			s.credential = cred
		}
		return true, nil
	})

	detachMessages := s.transport.OnMessage(s.handleMessage)
	detachStatus := s.transport.OnStatus(s.handleStatus)

	s.mu.Lock()
	s.detach = append(s.detach, detachMessages, detachStatus)
	s.mu.Unlock()
}

// Close stops following the transport and abandons any signing round.
func (s *AuthService) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.abandonRoundLocked()
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	s.stop()
}

// State returns the current snapshot.
func (s *AuthService) State() core.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn with the current snapshot and then with every new
// one. fn must not call back into the service synchronously.
func (s *AuthService) Subscribe(fn func(core.AuthState)) func() {
	return s.states.Subscribe(fn)
}

// Credential returns the token issued on the last successful handshake.
func (s *AuthService) Credential() (core.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential.Token == "" || s.credential.Expired(s.clock.Now()) {
		return core.Credential{}, false
	}
	return s.credential, true
}

// SetWallet attaches the signing wallet and starts a handshake if the
// connection is ready. Switching to a different account drops the session
// held for the previous one.
func (s *AuthService) SetWallet(w ports.Wallet) {
	if w == nil {
		s.ClearWallet()
		return
	}

	s.mu.Lock()
	switched := s.wallet != nil && s.wallet.Address() != w.Address()
	s.mu.Unlock()
	if switched {
		s.ClearWallet()
	}

	s.mu.Lock()
	s.wallet = w
	s.mu.Unlock()

	s.logger.Info().Str("wallet", w.Address().Hex()).Msg("wallet attached")
	s.maybeRequest()
}

// ClearWallet detaches the wallet. The session key is kept.
func (s *AuthService) ClearWallet() {
	s.transition(func(st *core.AuthState) (bool, func()) {
		s.wallet = nil
		s.abandonRoundLocked()
		st.IsAuthenticated = false
		st.IsAuthAttempted = false
		st.SessionExpireTimestamp = ""
		st.Phase = core.PhaseIdle
		return true, nil
	})
	s.downgradeTransport()
}

// Reset discards the credential and the session key, clears every flag
// and starts over with a fresh key.
func (s *AuthService) Reset(ctx context.Context) {
	var wallet string
	s.transition(func(st *core.AuthState) (bool, func()) {
		s.abandonRoundLocked()
		if s.wallet != nil {
			wallet = s.wallet.Address().Hex()
		}
		*st = core.AuthState{Phase: core.PhaseIdle}
		s.credential = core.Credential{}
		return true, func() {
			s.keys.ClearCredential(ctx)
			s.keys.Clear(ctx)
		}
	})

	key := s.keys.LoadOrCreate(ctx)
	s.transition(func(st *core.AuthState) (bool, func()) {
		if st.SessionKey != nil {
			return false, nil
		}
		st.SessionKey = key
		return true, nil
	})

	event := core.SessionEvent{Type: core.EventReset, Wallet: wallet}
	if key != nil {
		event.SessionKey = key.Address.Hex()
	}
	s.logger.Info().Msg("session reset")
	s.publish(event)

	s.downgradeTransport()
	s.maybeRequest()
}

// transition applies fn under the state lock and broadcasts the new
// snapshot when fn reports a change. The returned effect runs after the
// broadcast, before any later transition. Effects must not change the
// transport status.
func (s *AuthService) transition(fn func(st *core.AuthState) (bool, func())) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	changed, effect := fn(&s.state)
	snapshot := s.state
	s.mu.Unlock()

	if changed {
		if !snapshot.Valid() {
			s.logger.Error().Interface("state", snapshot).Msg("inconsistent auth state")
		}
		s.states.Publish(snapshot)
	}
	if effect != nil {
		effect()
	}
}

func (s *AuthService) handleStatus(status core.ConnectionStatus) {
	s.mu.Lock()
	prev := s.lastStatus
	s.lastStatus = status
	s.mu.Unlock()

	switch status {
	case core.StatusDisconnected:
		s.transition(func(st *core.AuthState) (bool, func()) {
			s.abandonRoundLocked()
			changed := st.IsAuthenticated || st.IsAuthAttempted || st.Phase != core.PhaseIdle
			st.IsAuthenticated = false
			st.IsAuthAttempted = false
			st.Phase = core.PhaseIdle
			return changed, nil
		})
	case core.StatusConnected:
		// Dropping back from Authenticated is our own doing, not a new connection.
		if prev != core.StatusAuthenticated {
			s.maybeRequest()
		}
	}
}

func (s *AuthService) handleMessage(msg rpc.Message) {
	switch msg.Kind {
	case rpc.KindChallenge:
		s.handleChallenge(msg.Challenge.ChallengeMessage)
	case rpc.KindVerify:
		s.handleVerify(*msg.Verify)
	case rpc.KindError:
		s.handleFailure(msg.Failure.Error)
	case rpc.KindResponse:
		s.handleResponse(msg)
	}
}

// handleResponse covers servers that answer auth_request and auth_verify
// as plain JSON-RPC responses instead of pushes.
func (s *AuthService) handleResponse(msg rpc.Message) {
	if !msg.HasID {
		return
	}
	s.mu.Lock()
	requestID, verifyID := s.requestID, s.verifyID
	s.mu.Unlock()

	switch {
	case requestID != 0 && msg.ID == requestID:
		if msg.Error != nil {
			s.handleFailure(msg.Error.Message)
			return
		}
		var challenge rpc.ChallengeParams
		if err := json.Unmarshal(msg.Result, &challenge); err != nil || challenge.ChallengeMessage == "" {
			s.logger.Warn().Uint64("id", msg.ID).Msg("auth_request answered without a challenge")
			return
		}
		s.handleChallenge(challenge.ChallengeMessage)
	case verifyID != 0 && msg.ID == verifyID:
		if msg.Error != nil {
			s.handleFailure(msg.Error.Message)
			return
		}
		var verify rpc.VerifyParams
		if err := json.Unmarshal(msg.Result, &verify); err != nil {
			s.logger.Warn().Err(err).Uint64("id", msg.ID).Msg("unreadable auth_verify result")
			return
		}
		s.handleVerify(verify)
	}
}

// maybeRequest sends auth_request when a wallet and a session key are
// present, the connection is open and no attempt is in flight.
func (s *AuthService) maybeRequest() {
	s.transition(func(st *core.AuthState) (bool, func()) {
		if s.wallet == nil || st.SessionKey == nil || st.IsAuthenticated || st.IsAuthAttempted {
			return false, nil
		}
		if s.transport.Status() != core.StatusConnected {
			return false, nil
		}

		wallet := s.wallet.Address().Hex()
		expire := strconv.FormatInt(s.clock.Now().Add(s.cfg.SessionDuration).Unix(), 10)

		s.abandonRoundLocked()
		s.requestID = s.transport.NextID()
		st.IsAuthAttempted = true
		st.SessionExpireTimestamp = expire
		st.Phase = core.PhaseRequested
		st.LastError = ""

		req := rpc.AuthRequest(s.requestID, rpc.AuthRequestParams{
			Address:     wallet,
			SessionKey:  st.SessionKey.Address.Hex(),
			AppName:     s.cfg.AppName,
			Expire:      expire,
			Scope:       s.cfg.Scope,
			Application: wallet,
		})
		s.logger.Info().
			Str("wallet", wallet).
			Str("session_key", st.SessionKey.Address.Hex()).
			Str("expire", expire).
			Msg("requesting challenge")
		return true, func() { s.send(req) }
	})
}

func (s *AuthService) handleChallenge(challenge string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if s.wallet == nil || st.SessionKey == nil || st.SessionExpireTimestamp == "" ||
		!st.IsAuthAttempted || st.IsAuthenticated {
		s.logger.Debug().Msg("ignoring challenge outside an attempt")
		return
	}

	s.abandonSignLocked()
	s.round++
	round := s.round

	wallet := s.wallet
	key := st.SessionKey
	address := wallet.Address()
	data := eth.Policy{
		Challenge:   challenge,
		Scope:       s.cfg.Scope,
		Wallet:      address,
		Application: address,
		Participant: key.Address,
		Expire:      st.SessionExpireTimestamp,
	}.TypedData(s.cfg.AppName)

	ctx, cancel := context.WithCancelCause(s.ctx)
	s.cancelSign = cancel
	s.signTimer = s.clock.AfterFunc(s.cfg.SignTimeout, func() {
		cancel(core.ErrSignTimeout)
		s.signFailed(round, core.ErrSignTimeout)
	})

	s.logger.Info().Str("wallet", address.Hex()).Msg("challenge received, requesting signature")
	go s.sign(ctx, round, wallet, key, challenge, data)
}

func (s *AuthService) sign(ctx context.Context, round uint64, wallet ports.Wallet, key *core.SessionKey, challenge string, data apitypes.TypedData) {
	sig, err := wallet.SignTypedData(ctx, data)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
			err = cause
		}
		if !errors.Is(err, core.ErrSignTimeout) {
			err = fmt.Errorf("%w: %v", core.ErrSignatureRejected, err)
		}
		s.signFailed(round, err)
		return
	}

	s.transition(func(st *core.AuthState) (bool, func()) {
		if s.round != round || !st.SessionKey.Equal(key) || !st.IsAuthAttempted || st.IsAuthenticated {
			s.logger.Debug().Msg("discarding signature for an abandoned attempt")
			return false, nil
		}
		s.abandonSignLocked()
		s.verifyID = s.transport.NextID()
		req := rpc.AuthVerify(s.verifyID, challenge, sig)
		return false, func() { s.send(req) }
	})
}

func (s *AuthService) signFailed(round uint64, err error) {
	s.transition(func(st *core.AuthState) (bool, func()) {
		if s.round != round {
			return false, nil
		}
		s.abandonRoundLocked()
		st.IsAuthAttempted = false
		st.Phase = core.PhaseIdle
		st.LastError = err.Error()
		s.logger.Warn().Err(err).Msg("signing failed")
		return true, nil
	})
}

func (s *AuthService) handleVerify(p rpc.VerifyParams) {
	if !p.Success {
		s.handleFailure(core.ErrVerificationFailed.Error())
		return
	}

	var (
		accepted bool
		event    core.SessionEvent
	)
	s.transition(func(st *core.AuthState) (bool, func()) {
		if st.SessionKey == nil || !st.IsAuthAttempted || st.IsAuthenticated {
			s.logger.Debug().Msg("ignoring verification outside an attempt")
			return false, nil
		}
		if p.SessionKey != "" && !strings.EqualFold(p.SessionKey, st.SessionKey.Address.Hex()) {
			s.logger.Warn().Str("session_key", p.SessionKey).Msg("ignoring verification for another session key")
			return false, nil
		}

		s.abandonRoundLocked()
		st.IsAuthenticated = true
		st.Phase = core.PhaseAuthenticated
		st.LastError = ""

		accepted = true
		event = core.SessionEvent{
			Type:       core.EventAuthenticated,
			SessionKey: st.SessionKey.Address.Hex(),
			Expire:     st.SessionExpireTimestamp,
		}
		if s.wallet != nil {
			event.Wallet = s.wallet.Address().Hex()
		}
		if p.JWTToken != "" {
			s.credential = s.keys.describe(p.JWTToken)
		}
		return true, func() {
			if p.JWTToken != "" {
				s.keys.SaveCredential(s.ctx, p.JWTToken)
			}
		}
	})
	if !accepted {
		return
	}

	s.logger.Info().Str("wallet", event.Wallet).Str("session_key", event.SessionKey).Msg("authenticated")
	s.transport.SetStatus(core.StatusAuthenticated)
	s.publish(event)
}

// handleFailure treats a remote error during or after a handshake as a
// verdict against the session key: the key and credential are destroyed
// and a fresh key takes their place.
func (s *AuthService) handleFailure(reason string) {
	if reason == "" {
		reason = core.ErrVerificationFailed.Error()
	}

	var (
		failed bool
		event  core.SessionEvent
	)
	s.transition(func(st *core.AuthState) (bool, func()) {
		if !st.IsAuthAttempted && !st.IsAuthenticated {
			s.logger.Debug().Str("reason", reason).Msg("ignoring remote error outside an attempt")
			return false, nil
		}

		failed = true
		event = core.SessionEvent{Type: core.EventFailed, Reason: reason}
		if st.SessionKey != nil {
			event.SessionKey = st.SessionKey.Address.Hex()
		}
		if s.wallet != nil {
			event.Wallet = s.wallet.Address().Hex()
		}

		s.abandonRoundLocked()
		s.credential = core.Credential{}
		st.SessionKey = nil
		st.IsAuthenticated = false
		st.IsAuthAttempted = false
		st.Phase = core.PhaseFailed
		st.LastError = reason
		return true, func() {
			s.keys.ClearCredential(s.ctx)
			s.keys.Clear(s.ctx)
		}
	})
	if !failed {
		return
	}
	s.logger.Warn().Str("reason", reason).Str("session_key", event.SessionKey).Msg("authentication failed, rotating session key")

	key := s.keys.LoadOrCreate(s.ctx)
	s.transition(func(st *core.AuthState) (bool, func()) {
		if st.SessionKey == nil {
			st.SessionKey = key
		}
		if st.Phase == core.PhaseFailed {
			st.Phase = core.PhaseIdle
		}
		return true, nil
	})

	s.publish(event)
	s.downgradeTransport()
}

// downgradeTransport withdraws the Authenticated status once the session
// no longer holds it.
func (s *AuthService) downgradeTransport() {
	if s.transport.Status() == core.StatusAuthenticated && !s.State().IsAuthenticated {
		s.transport.SetStatus(core.StatusConnected)
	}
}

func (s *AuthService) send(req rpc.Request) {
	payload, err := req.Marshal()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode request")
		return
	}
	s.transport.Send(payload)
}

func (s *AuthService) publish(event core.SessionEvent) {
	if s.eventPub == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = s.clock.Now()
	if err := s.eventPub.PublishSessionEvent(s.ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to publish session event")
	}
}

// abandonRoundLocked invalidates the current attempt.
func (s *AuthService) abandonRoundLocked() {
	s.abandonSignLocked()
	s.round++
	s.requestID = 0
	s.verifyID = 0
}

func (s *AuthService) abandonSignLocked() {
	if s.signTimer != nil {
		s.signTimer.Stop()
		s.signTimer = nil
	}
	if s.cancelSign != nil {
		s.cancelSign(errSignAbandoned)
		s.cancelSign = nil
	}
}
