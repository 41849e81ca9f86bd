package ws

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/internal/clock"
)

const (
	DefaultReconnectDelay       = 2 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultRequestTimeout       = 30 * time.Second
	DefaultForceReconnectDelay  = time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
)

// Config controls the connection manager. Zero durations and counts take
// the defaults above.
type Config struct {
	URL string

	// The n-th consecutive reconnect waits ReconnectDelay*n. After
	// MaxReconnectAttempts the client stays down until ForceReconnect.
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	RequestTimeout      time.Duration
	ForceReconnectDelay time.Duration
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration

	Clock  clock.Clock
	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ForceReconnectDelay <= 0 {
		c.ForceReconnectDelay = DefaultForceReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}
