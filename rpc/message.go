package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/somewherelostt/Neom1/core"
)

// Kind discriminates inbound messages.
type Kind int

const (
	KindGeneric Kind = iota
	KindResponse
	KindChallenge
	KindVerify
	KindError
	KindBalanceUpdate
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindChallenge:
		return "challenge"
	case KindVerify:
		return "verify"
	case KindError:
		return "error"
	case KindBalanceUpdate:
		return "balance_update"
	default:
		return "generic"
	}
}

// ChallengeParams carries the nonce the wallet must sign.
type ChallengeParams struct {
	ChallengeMessage string `json:"challenge_message"`
}

// VerifyParams reports the outcome of auth_verify.
type VerifyParams struct {
	Success    bool   `json:"success"`
	JWTToken   string `json:"jwt_token"`
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
}

func (p *VerifyParams) UnmarshalJSON(data []byte) error {
	var raw struct {
		Success    bool   `json:"success"`
		JWTToken   string `json:"jwt_token"`
		JWTCamel   string `json:"jwtToken"`
		Address    string `json:"address"`
		SessionKey string `json:"session_key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = VerifyParams{
		Success:    raw.Success,
		JWTToken:   raw.JWTToken,
		Address:    raw.Address,
		SessionKey: raw.SessionKey,
	}
	if p.JWTToken == "" {
		p.JWTToken = raw.JWTCamel
	}
	return nil
}

// ErrorParams is the payload of an error-method push.
type ErrorParams struct {
	Error string `json:"error"`
}

// BalanceUpdate is a partial balance pushed by the network. Nil fields
// were absent from the message.
type BalanceUpdate struct {
	Asset    string           `json:"asset"`
	Symbol   string           `json:"symbol,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Decimals *int             `json:"decimals,omitempty"`
}

// Message is a decoded inbound frame. Exactly one of the variant fields
// is set, according to Kind; Generic and Response carry only the raw parts.
type Message struct {
	Kind   Kind
	ID     uint64
	HasID  bool
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
	Raw    []byte

	Challenge *ChallengeParams
	Verify    *VerifyParams
	Failure   *ErrorParams
	Balance   *BalanceUpdate
}

// Response returns the request-style view of the message. An error-method
// frame correlated by id surfaces as a JSON-RPC error.
func (m Message) Response() Response {
	resp := Response{ID: m.ID, Result: m.Result, Error: m.Error}
	if resp.Error == nil && m.Failure != nil {
		resp.Error = &Error{Message: m.Failure.Error}
	}
	return resp
}

type envelope struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params json.RawMessage   `json:"params"`
	Result json.RawMessage   `json:"result"`
	Error  *Error            `json:"error"`
	Res    []json.RawMessage `json:"res"`
}

// Decode parses one frame. It accepts the JSON-RPC shape
// {id, method, params, result, error} and the compact ClearNode shape
// {"res": [id, method, params, timestamp]}.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}

	if len(env.Res) > 0 {
		if len(env.Res) < 3 {
			return Message{}, fmt.Errorf("%w: compact frame has %d elements", core.ErrMalformedMessage, len(env.Res))
		}
		env.ID = env.Res[0]
		if err := json.Unmarshal(env.Res[1], &env.Method); err != nil {
			return Message{}, fmt.Errorf("%w: compact frame method: %v", core.ErrMalformedMessage, err)
		}
		env.Params = env.Res[2]
		env.Result = env.Res[2]
	}

	msg := Message{
		Method: env.Method,
		Params: env.Params,
		Result: env.Result,
		Error:  env.Error,
		Raw:    data,
	}
	msg.ID, msg.HasID = parseID(env.ID)

	var err error
	switch env.Method {
	case MethodAuthChallenge:
		msg.Kind = KindChallenge
		msg.Challenge = &ChallengeParams{}
		err = decodeParams(env.Params, msg.Challenge)
		if err == nil && msg.Challenge.ChallengeMessage == "" {
			err = fmt.Errorf("%w: auth_challenge without challenge_message", core.ErrMalformedMessage)
		}
	case MethodAuthVerify:
		msg.Kind = KindVerify
		msg.Verify = &VerifyParams{}
		err = decodeParams(env.Params, msg.Verify)
	case MethodError:
		msg.Kind = KindError
		msg.Failure = &ErrorParams{}
		err = decodeParams(env.Params, msg.Failure)
	case MethodBalanceUpdate:
		msg.Kind = KindBalanceUpdate
		msg.Balance = &BalanceUpdate{}
		err = decodeParams(env.Params, msg.Balance)
		if err == nil && msg.Balance.Asset == "" {
			err = fmt.Errorf("%w: balance_update without asset", core.ErrMalformedMessage)
		}
	case "":
		if env.Result != nil || env.Error != nil {
			msg.Kind = KindResponse
		}
	default:
		if msg.HasID && (env.Result != nil || env.Error != nil) {
			msg.Kind = KindResponse
		}
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	return nil
}

// parseID accepts numeric ids and numeric strings; anything else cannot
// correlate with a request this client sent.
func parseID(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
