package tokenizer

import "github.com/golang-jwt/jwt/v5"

// CredentialClaims are the claims a ClearNode puts in the token it issues
// after auth_verify. Only the registered claims are interpreted.
type CredentialClaims struct {
	jwt.RegisteredClaims
	Wallet     string `json:"wallet,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Scope      string `json:"scope,omitempty"`
}
