package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/clock"
	"github.com/somewherelostt/Neom1/internal/eth"
	"github.com/somewherelostt/Neom1/ports"
)

const (
	DefaultStorePrefix = "neom_"

	sessionKeyName = "session_key"
	credentialName = "jwt_token"
)

type sessionKeyRecord struct {
	PrivateKey string `json:"privateKey"`
	Address    string `json:"address"`
}

// KeyStore persists the session key and the credential issued for it.
//
// Storage failures never surface to callers: they are logged, and the
// in-memory key keeps working for the life of the process. Without a
// store, no key is ever produced.
type KeyStore struct {
	store  ports.Store
	tokens ports.Tokenizer
	prefix string
	clock  clock.Clock
	logger zerolog.Logger
}

// NewKeyStore creates a key store. store may be nil.
func NewKeyStore(store ports.Store, tokens ports.Tokenizer, prefix string, clk clock.Clock, logger zerolog.Logger) *KeyStore {
	if prefix == "" {
		prefix = DefaultStorePrefix
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &KeyStore{
		store:  store,
		tokens: tokens,
		prefix: prefix,
		clock:  clk,
		logger: logger,
	}
}

// LoadOrCreate returns the stored session key, or generates and persists
// a new one when nothing usable is stored.
func (k *KeyStore) LoadOrCreate(ctx context.Context) *core.SessionKey {
	if k.store == nil {
		return nil
	}

	raw, err := k.store.Get(ctx, k.key(sessionKeyName))
	switch {
	case err == nil:
		key, err := decodeSessionKey(raw)
		if err == nil {
			return key
		}
		k.logger.Warn().Err(err).Msg("discarding stored session key")
	case errors.Is(err, core.ErrNotFound):
	default:
		k.logger.Error().Err(err).Msg("failed to read session key")
	}

	privateKey, address, err := eth.GenerateKey()
	if err != nil {
		k.logger.Error().Err(err).Msg("failed to generate session key")
		return nil
	}
	key := &core.SessionKey{PrivateKey: privateKey, Address: address}
	k.Persist(ctx, key)
	k.logger.Info().Str("session_key", address.Hex()).Msg("generated session key")
	return key
}

// Persist writes the key without expiry.
func (k *KeyStore) Persist(ctx context.Context, key *core.SessionKey) {
	if k.store == nil || key == nil {
		return
	}
	payload, err := json.Marshal(sessionKeyRecord{
		PrivateKey: eth.PrivateKeyHex(key.PrivateKey),
		Address:    key.Address.Hex(),
	})
	if err != nil {
		k.logger.Error().Err(err).Msg("failed to encode session key")
		return
	}
	if err := k.store.Set(ctx, k.key(sessionKeyName), string(payload), 0); err != nil {
		k.logger.Error().Err(err).Msg("failed to persist session key")
	}
}

// Clear removes the stored session key.
func (k *KeyStore) Clear(ctx context.Context) {
	k.delete(ctx, sessionKeyName)
}

// SaveCredential stores the token until its exp claim. An already expired
// token is not stored; an unreadable one is stored without expiry.
func (k *KeyStore) SaveCredential(ctx context.Context, token string) {
	if k.store == nil || token == "" {
		return
	}

	ttl := k.credentialTTL(token)
	if ttl < 0 {
		k.logger.Warn().Msg("not storing expired credential")
		return
	}
	if err := k.store.Set(ctx, k.key(credentialName), token, ttl); err != nil {
		k.logger.Error().Err(err).Msg("failed to persist credential")
	}
}

// Credential returns the stored credential. Expired credentials are
// deleted and reported as absent.
func (k *KeyStore) Credential(ctx context.Context) (core.Credential, bool) {
	if k.store == nil {
		return core.Credential{}, false
	}

	token, err := k.store.Get(ctx, k.key(credentialName))
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			k.logger.Error().Err(err).Msg("failed to read credential")
		}
		return core.Credential{}, false
	}

	cred := k.describe(token)
	if cred.Expired(k.clock.Now()) {
		k.logger.Info().Time("expired_at", cred.ExpiresAt).Msg("discarding expired credential")
		k.ClearCredential(ctx)
		return core.Credential{}, false
	}
	return cred, true
}

// ClearCredential removes the stored credential.
func (k *KeyStore) ClearCredential(ctx context.Context) {
	k.delete(ctx, credentialName)
}

// describe reads what it can from token. An unreadable token yields a
// credential without subject or expiry.
func (k *KeyStore) describe(token string) core.Credential {
	if k.tokens == nil {
		return core.Credential{Token: token}
	}
	cred, err := k.tokens.Inspect(token)
	if err != nil {
		k.logger.Warn().Err(err).Msg("credential is not a readable token")
		return core.Credential{Token: token}
	}
	return cred
}

// credentialTTL is zero for tokens without expiry and negative for tokens
// that already expired.
func (k *KeyStore) credentialTTL(token string) time.Duration {
	cred := k.describe(token)
	if cred.ExpiresAt.IsZero() {
		return 0
	}
	if cred.Expired(k.clock.Now()) {
		return -1
	}
	return cred.TTL(k.clock.Now())
}

func (k *KeyStore) delete(ctx context.Context, name string) {
	if k.store == nil {
		return
	}
	if err := k.store.Delete(ctx, k.key(name)); err != nil {
		k.logger.Error().Err(err).Str("key", name).Msg("failed to delete from store")
	}
}

func (k *KeyStore) key(name string) string {
	return k.prefix + name
}

func decodeSessionKey(raw string) (*core.SessionKey, error) {
	var rec sessionKeyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSessionKey, err)
	}
	if rec.PrivateKey == "" || rec.Address == "" {
		return nil, fmt.Errorf("%w: incomplete record", core.ErrInvalidSessionKey)
	}
	if !common.IsHexAddress(rec.Address) || !strings.HasPrefix(rec.Address, "0x") {
		return nil, fmt.Errorf("%w: malformed address", core.ErrInvalidSessionKey)
	}
	privateKey, err := eth.ParsePrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSessionKey, err)
	}
	address := eth.AddressOf(privateKey)
	if address != common.HexToAddress(rec.Address) {
		return nil, fmt.Errorf("%w: address does not match private key", core.ErrInvalidSessionKey)
	}
	return &core.SessionKey{PrivateKey: privateKey, Address: address}, nil
}
