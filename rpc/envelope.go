// Package rpc defines the JSON envelopes exchanged with a ClearNode.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/somewherelostt/Neom1/internal/eth"
)

const Version = "2.0"

const (
	MethodAuthRequest   = "auth_request"
	MethodAuthChallenge = "auth_challenge"
	MethodAuthVerify    = "auth_verify"
	MethodError         = "error"
	MethodBalanceUpdate = "balance_update"
	MethodGetBalances   = "get_balances"
)

// Request is an outbound call. Sig carries signatures over the request
// when the method needs them (auth_verify).
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Sig     []string    `json:"sig,omitempty"`
}

func NewRequest(id uint64, method string, params interface{}) Request {
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

func (r Request) Marshal() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", r.Method, err)
	}
	return payload, nil
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is the reply to a Request, matched by ID.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// AuthRequestParams opens the handshake on behalf of a wallet.
type AuthRequestParams struct {
	Address     string          `json:"address"`
	SessionKey  string          `json:"session_key"`
	AppName     string          `json:"app_name"`
	Expire      string          `json:"expire"`
	Scope       string          `json:"scope"`
	Application string          `json:"application"`
	Allowances  []eth.Allowance `json:"allowances"`
}

// AuthVerifyParams answers a challenge. The signature travels in Request.Sig.
type AuthVerifyParams struct {
	Challenge string `json:"challenge"`
}

// AuthRequest builds the opening message of the handshake.
func AuthRequest(id uint64, params AuthRequestParams) Request {
	if params.Allowances == nil {
		params.Allowances = []eth.Allowance{}
	}
	return NewRequest(id, MethodAuthRequest, params)
}

// AuthVerify wraps the wallet's signature with the challenge it answers.
func AuthVerify(id uint64, challenge string, signature []byte) Request {
	req := NewRequest(id, MethodAuthVerify, AuthVerifyParams{Challenge: challenge})
	req.Sig = []string{hexutil.Encode(signature)}
	return req
}
