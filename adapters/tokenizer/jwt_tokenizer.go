package tokenizer

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/ports"
)

// JWTTokenizer reads ClearNode credentials. The issuer's key is not
// available to the client, so signatures are not checked here; the
// network checks them when the token is presented.
type JWTTokenizer struct {
	parser *jwt.Parser
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer() ports.Tokenizer {
	return &JWTTokenizer{parser: jwt.NewParser()}
}

// Inspect decodes the token's claims into a Credential
func (j *JWTTokenizer) Inspect(tokenStr string) (core.Credential, error) {
	claims := &CredentialClaims{}
	if _, _, err := j.parser.ParseUnverified(tokenStr, claims); err != nil {
		return core.Credential{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	cred := core.Credential{
		Token:   tokenStr,
		Subject: claims.Subject,
	}
	if cred.Subject == "" {
		cred.Subject = claims.Wallet
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}

	return cred, nil
}
