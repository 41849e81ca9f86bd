package core

import "time"

// Credential is the bearer token the network issues after a successful
// auth_verify. The client cannot check its signature, only read it.
type Credential struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the credential carries an expiry that has passed.
// A credential without an expiry never expires on the client side.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TTL is the remaining lifetime, or zero for a credential without expiry.
func (c Credential) TTL(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
