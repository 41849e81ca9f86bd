package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = crypto.SignatureLength

var ErrSignatureLength = errors.New("signature must be 65 bytes")

// SignText produces an EIP-191 personal_sign signature with v in {27, 28}.
func SignText(key *ecdsa.PrivateKey, text string) ([]byte, error) {
	return signHash(key, accounts.TextHash([]byte(text)))
}

// SignTypedData produces an EIP-712 signature with v in {27, 28}.
func SignTypedData(key *ecdsa.PrivateKey, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return signHash(key, hash)
}

// RecoverText returns the signer of an EIP-191 personal message.
func RecoverText(text string, sig []byte) (common.Address, error) {
	return recoverHash(accounts.TextHash([]byte(text)), sig)
}

// RecoverTypedData returns the signer of an EIP-712 message.
func RecoverTypedData(data apitypes.TypedData, sig []byte) (common.Address, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return recoverHash(hash, sig)
}

// VerifySignatureAgainstAddress reports whether sig over the typed data
// was produced by expected.
func VerifySignatureAgainstAddress(data apitypes.TypedData, sig []byte, expected common.Address) (bool, error) {
	signer, err := RecoverTypedData(data, sig)
	if err != nil {
		return false, err
	}
	return signer == expected, nil
}

func signHash(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func recoverHash(hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	// Work on a copy; wallets emit v as 27/28, SigToPub wants 0/1.
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
