package core

import (
	"crypto/ecdsa"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionKey is the ephemeral keypair that represents this client to the
// network as a delegated signer. The private key never leaves the process
// except through the configured store.
type SessionKey struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// Equal reports whether both keys carry the same address.
func (k *SessionKey) Equal(other *SessionKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.Address == other.Address
}

// AuthPhase is the coarse position of the authentication state machine.
type AuthPhase string

const (
	PhaseIdle          AuthPhase = "idle"
	PhaseRequested     AuthPhase = "requested"
	PhaseAuthenticated AuthPhase = "authenticated"
	PhaseFailed        AuthPhase = "failed"
)

// AuthState is the snapshot broadcast to observers on every change.
type AuthState struct {
	SessionKey             *SessionKey
	IsAuthenticated        bool
	IsAuthAttempted        bool
	SessionExpireTimestamp string
	Phase                  AuthPhase
	LastError              string
}

// Valid checks the invariants every published snapshot must hold.
func (s AuthState) Valid() bool {
	if s.IsAuthenticated && !s.IsAuthAttempted {
		return false
	}
	if s.IsAuthenticated && s.SessionKey == nil {
		return false
	}
	return true
}

// MarshalJSON renders the state without the private key.
func (s AuthState) MarshalJSON() ([]byte, error) {
	var sessionKey string
	if s.SessionKey != nil {
		sessionKey = s.SessionKey.Address.Hex()
	}
	return json.Marshal(struct {
		SessionKey             string    `json:"session_key,omitempty"`
		IsAuthenticated        bool      `json:"is_authenticated"`
		IsAuthAttempted        bool      `json:"is_auth_attempted"`
		SessionExpireTimestamp string    `json:"session_expire_timestamp"`
		Phase                  AuthPhase `json:"phase"`
		LastError              string    `json:"last_error,omitempty"`
	}{
		SessionKey:             sessionKey,
		IsAuthenticated:        s.IsAuthenticated,
		IsAuthAttempted:        s.IsAuthAttempted,
		SessionExpireTimestamp: s.SessionExpireTimestamp,
		Phase:                  s.Phase,
		LastError:              s.LastError,
	})
}

// SessionEventType names a milestone of the session lifecycle.
type SessionEventType string

const (
	EventAuthenticated SessionEventType = "session.authenticated"
	EventFailed        SessionEventType = "session.failed"
	EventReset         SessionEventType = "session.reset"
)

// SessionEvent is published to other processes when the session changes.
type SessionEvent struct {
	ID         string           `json:"id"`
	Type       SessionEventType `json:"type"`
	Wallet     string           `json:"wallet,omitempty"`
	SessionKey string           `json:"session_key,omitempty"`
	Expire     string           `json:"expire,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	At         time.Time        `json:"at"`
}
