package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/eth"
	"github.com/somewherelostt/Neom1/rpc"
)

// VerificationResult is the outcome of checking a personal-message signature.
type VerificationResult struct {
	Valid            bool   `json:"valid"`
	RecoveredAddress string `json:"recovered_address,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Stage names the step at which ProcessAuthResponse stopped.
type Stage string

const (
	StageShape     Stage = "shape"
	StageAddress   Stage = "address"
	StageSignature Stage = "signature"
)

// ProcessResult reports whether a signed auth response checks out.
type ProcessResult struct {
	Authenticated bool                `json:"authenticated"`
	Stage         Stage               `json:"stage"`
	Error         string              `json:"error,omitempty"`
	Details       *VerificationResult `json:"details,omitempty"`
}

// AuthResult is the result body of a signed auth response.
type AuthResult struct {
	Signature string `json:"signature"`
	Message   string `json:"message"`
	Address   string `json:"address"`
}

const (
	signatureHexLength = 2 + 2*eth.SignatureLength
	addressHexLength   = 42
)

// AuthMessage is the human-readable text a wallet signs to prove control
// of address for a given challenge.
func AuthMessage(appName, address, challenge string, timestamp int64) string {
	return fmt.Sprintf(`Welcome to %s!

Please sign this message to authenticate your wallet.

Address: %s
Challenge: %s
Timestamp: %d

This request will not trigger a blockchain transaction or cost any gas fees.`,
		appName, address, challenge, timestamp)
}

// VerifySignature recovers the signer of an EIP-191 message and compares
// it to expected, ignoring case. Failures are reported in the result.
func VerifySignature(signature, message, expected string) VerificationResult {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return VerificationResult{Error: fmt.Sprintf("%v: %v", core.ErrInvalidSignatureFormat, err)}
	}

	signer, err := eth.RecoverText(message, sig)
	if err != nil {
		return VerificationResult{Error: err.Error()}
	}

	recovered := signer.Hex()
	if !strings.EqualFold(recovered, expected) {
		return VerificationResult{RecoveredAddress: recovered, Error: core.ErrInvalidSignature.Error()}
	}
	return VerificationResult{Valid: true, RecoveredAddress: recovered}
}

// ValidateAuthResponse checks that resp carries a well-formed AuthResult.
func ValidateAuthResponse(resp rpc.Response) error {
	_, err := parseAuthResult(resp)
	return err
}

// ProcessAuthResponse validates the shape of resp, checks it names
// expected and verifies the signature, stopping at the first failure.
func ProcessAuthResponse(resp rpc.Response, expected string) ProcessResult {
	result, err := parseAuthResult(resp)
	if err != nil {
		return ProcessResult{Stage: StageShape, Error: err.Error()}
	}

	if !strings.EqualFold(result.Address, expected) {
		return ProcessResult{Stage: StageAddress, Error: core.ErrAddressMismatch.Error()}
	}

	details := VerifySignature(result.Signature, result.Message, expected)
	return ProcessResult{
		Authenticated: details.Valid,
		Stage:         StageSignature,
		Error:         details.Error,
		Details:       &details,
	}
}

func parseAuthResult(resp rpc.Response) (AuthResult, error) {
	raw := bytes.TrimSpace(resp.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return AuthResult{}, core.ErrMissingResult
	}

	var result AuthResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", core.ErrMissingFields, err)
	}
	if result.Signature == "" || result.Message == "" || result.Address == "" {
		return AuthResult{}, core.ErrMissingFields
	}
	if !isHex(result.Signature, signatureHexLength) {
		return AuthResult{}, core.ErrInvalidSignatureFormat
	}
	if !isHex(result.Address, addressHexLength) {
		return AuthResult{}, core.ErrInvalidAddressFormat
	}
	return result, nil
}

// isHex reports whether s is 0x followed by hex digits, length bytes in total.
func isHex(s string, length int) bool {
	if len(s) != length || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
