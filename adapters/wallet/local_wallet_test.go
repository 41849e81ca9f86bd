package wallet

import (
	"context"
	"testing"

	"github.com/somewherelostt/Neom1/internal/eth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWalletSignsMessages(t *testing.T) {
	key, address, err := eth.GenerateKey()
	require.NoError(t, err)

	w := NewLocalWallet(key)
	assert.Equal(t, address, w.Address())

	sig, err := w.SignMessage(context.Background(), "hello")
	require.NoError(t, err)

	signer, err := eth.RecoverText("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, address, signer)
}

func TestLocalWalletSignsPolicy(t *testing.T) {
	key, address, err := eth.GenerateKey()
	require.NoError(t, err)
	_, participant, err := eth.GenerateKey()
	require.NoError(t, err)

	data := eth.Policy{
		Challenge:   "challenge-1",
		Scope:       "neom-app.com",
		Wallet:      address,
		Application: address,
		Participant: participant,
		Expire:      "1767229200",
	}.TypedData("NEOM")

	sig, err := NewLocalWallet(key).SignTypedData(context.Background(), data)
	require.NoError(t, err)

	ok, err := eth.VerifySignatureAgainstAddress(data, sig, address)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalWalletHonoursCancellation(t *testing.T) {
	key, _, err := eth.GenerateKey()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewLocalWallet(key).SignMessage(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromHex(t *testing.T) {
	key, address, err := eth.GenerateKey()
	require.NoError(t, err)

	w, err := FromHex(eth.PrivateKeyHex(key))
	require.NoError(t, err)
	assert.Equal(t, address, w.Address())

	_, err = FromHex("0xnothex")
	assert.Error(t, err)
}
