// Package config loads the client settings: defaults, then an optional
// TOML file, then environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
	"github.com/somewherelostt/Neom1/internal/eth"
)

const (
	EnvWSURL       = "NEOM_WS_URL"
	EnvAppName     = "NEOM_APP_NAME"
	EnvScope       = "NEOM_SCOPE"
	EnvRedisURL    = "REDIS_URL"
	EnvListenAddr  = "NEOM_LISTEN_ADDR"
	EnvWalletKey   = "NEOM_WALLET_KEY"
	EnvStorePrefix = "NEOM_STORE_PREFIX"
)

// Config is the full runtime configuration.
type Config struct {
	WSURL       string
	AppName     string
	Scope       string
	RedisURL    string
	ListenAddr  string
	WalletKey   string
	StorePrefix string
	EventTopic  string

	SessionDuration time.Duration
	SignTimeout     time.Duration

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		AppName:              "NEOM",
		Scope:                "neom-app.com",
		ListenAddr:           ":8080",
		StorePrefix:          "neom_",
		EventTopic:           "neom.session",
		SessionDuration:      time.Hour,
		SignTimeout:          2 * time.Minute,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		RequestTimeout:       30 * time.Second,
	}
}

// config.toml key mapping.
type fileConfig struct {
	WSURL                string `toml:"ws_url"`
	AppName              string `toml:"app_name"`
	Scope                string `toml:"scope"`
	RedisURL             string `toml:"redis_url"`
	ListenAddr           string `toml:"listen_addr"`
	WalletKey            string `toml:"wallet_key"`
	StorePrefix          string `toml:"store_prefix"`
	EventTopic           string `toml:"event_topic"`
	SessionDuration      string `toml:"session_duration"`
	SignTimeout          string `toml:"sign_timeout"`
	ReconnectDelay       string `toml:"reconnect_delay"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	RequestTimeout       string `toml:"request_timeout"`
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	overlayEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	strs := []struct {
		key string
		src string
		dst *string
	}{
		{"ws_url", raw.WSURL, &cfg.WSURL},
		{"app_name", raw.AppName, &cfg.AppName},
		{"scope", raw.Scope, &cfg.Scope},
		{"redis_url", raw.RedisURL, &cfg.RedisURL},
		{"listen_addr", raw.ListenAddr, &cfg.ListenAddr},
		{"wallet_key", raw.WalletKey, &cfg.WalletKey},
		{"store_prefix", raw.StorePrefix, &cfg.StorePrefix},
		{"event_topic", raw.EventTopic, &cfg.EventTopic},
	}
	for _, s := range strs {
		if meta.IsDefined(s.key) {
			*s.dst = strings.TrimSpace(s.src)
		}
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"session_duration", raw.SessionDuration, &cfg.SessionDuration},
		{"sign_timeout", raw.SignTimeout, &cfg.SignTimeout},
		{"reconnect_delay", raw.ReconnectDelay, &cfg.ReconnectDelay},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.src))
		if err != nil {
			return fmt.Errorf("load config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("max_reconnect_attempts") {
		cfg.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	return nil
}

func overlayEnv(cfg *Config, lookup func(string) (string, bool)) {
	vars := []struct {
		name string
		dst  *string
	}{
		{EnvWSURL, &cfg.WSURL},
		{EnvAppName, &cfg.AppName},
		{EnvScope, &cfg.Scope},
		{EnvRedisURL, &cfg.RedisURL},
		{EnvListenAddr, &cfg.ListenAddr},
		{EnvWalletKey, &cfg.WalletKey},
		{EnvStorePrefix, &cfg.StorePrefix},
	}
	for _, v := range vars {
		if value, ok := lookup(v.name); ok {
			*v.dst = strings.TrimSpace(value)
		}
	}
}

// Validate rejects malformed settings. A missing WSURL is allowed: the
// client then stays disconnected and reports it.
func (c Config) Validate() error {
	if c.WSURL != "" {
		u, err := url.Parse(c.WSURL)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWSURL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid %s: scheme must be ws or wss, got %q", EnvWSURL, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid %s: missing host", EnvWSURL)
		}
	}
	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRedisURL, err)
		}
	}
	if c.WalletKey != "" {
		if _, err := eth.ParsePrivateKey(c.WalletKey); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWalletKey, err)
		}
	}
	if strings.TrimSpace(c.AppName) == "" {
		return fmt.Errorf("app name must not be empty")
	}
	if strings.TrimSpace(c.Scope) == "" {
		return fmt.Errorf("scope must not be empty")
	}

	positive := map[string]time.Duration{
		"session_duration": c.SessionDuration,
		"sign_timeout":     c.SignTimeout,
		"reconnect_delay":  c.ReconnectDelay,
		"request_timeout":  c.RequestTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative, got %s", strconv.Itoa(c.MaxReconnectAttempts))
	}
	return nil
}
