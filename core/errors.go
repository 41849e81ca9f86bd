package core

import "errors"

var (
	// Transport
	ErrEndpointNotConfigured = errors.New("websocket endpoint is not configured")
	ErrRequestTimeout        = errors.New("request timed out")
	ErrTransportClosed       = errors.New("transport closed")
	ErrNotConnected          = errors.New("websocket is not connected")
	ErrRemote                = errors.New("remote returned an error")

	// Protocol
	ErrMalformedMessage = errors.New("malformed message")

	// Authentication
	ErrNoWallet           = errors.New("no wallet attached")
	ErrNoSessionKey       = errors.New("no session key")
	ErrNotAuthenticated   = errors.New("session is not authenticated")
	ErrSignatureRejected  = errors.New("wallet rejected the signature request")
	ErrSignTimeout        = errors.New("wallet did not sign in time")
	ErrVerificationFailed = errors.New("challenge verification failed")

	// Signature verification
	ErrMissingResult          = errors.New("missing result in response")
	ErrMissingFields          = errors.New("missing required fields in auth response")
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
	ErrInvalidAddressFormat   = errors.New("invalid address format")
	ErrAddressMismatch        = errors.New("address mismatch in auth response")
	ErrInvalidSignature       = errors.New("invalid signature")

	// Storage
	ErrNotFound             = errors.New("key not found")
	ErrStoreOperationFailed = errors.New("store operation failed")

	// Session key
	ErrInvalidSessionKey = errors.New("invalid session key")

	// Credentials
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)
