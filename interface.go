package neom

import (
	"context"

	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/ports"
)

// Session represents the public interface for following and steering
// the authenticated session.
type Session interface {
	// State returns the current snapshot
	State() core.AuthState

	// Subscribe calls fn with the current snapshot and every later one
	Subscribe(fn func(core.AuthState)) (unsubscribe func())

	// Credential returns the bearer token issued by the network, if any
	Credential() (core.Credential, bool)

	// SetWallet attaches the signing wallet and starts a handshake when possible
	SetWallet(w ports.Wallet)

	// ClearWallet detaches the wallet and drops the session held for it
	ClearWallet()

	// Reset discards the credential and session key and starts over
	Reset(ctx context.Context)
}
