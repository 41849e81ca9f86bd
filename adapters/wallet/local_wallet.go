// Package wallet provides a wallet backed by a private key held in process.
// It stands in for a browser extension when the client runs headless.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/somewherelostt/Neom1/internal/eth"
	"github.com/somewherelostt/Neom1/ports"
)

// LocalWallet signs with a key it holds directly.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalWallet creates a wallet from a private key
func NewLocalWallet(key *ecdsa.PrivateKey) ports.Wallet {
	return &LocalWallet{key: key, address: eth.AddressOf(key)}
}

// FromHex parses a hex secret (with or without 0x) into a wallet
func FromHex(secret string) (ports.Wallet, error) {
	key, err := eth.ParsePrivateKey(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	return NewLocalWallet(key), nil
}

// Address returns the wallet's account
func (w *LocalWallet) Address() common.Address {
	return w.address
}

// SignMessage produces a personal_sign signature
func (w *LocalWallet) SignMessage(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return eth.SignText(w.key, text)
}

// SignTypedData produces an eth_signTypedData_v4 signature
func (w *LocalWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return eth.SignTypedData(w.key, data)
}
