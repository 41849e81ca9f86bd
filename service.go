// Package neom wires the session client for embedding: transport, key
// store, authentication, balances and the control API.
package neom

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/adapters/events"
	"github.com/somewherelostt/Neom1/adapters/store"
	"github.com/somewherelostt/Neom1/adapters/tokenizer"
	"github.com/somewherelostt/Neom1/adapters/wallet"
	"github.com/somewherelostt/Neom1/config"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/internal/clock"
	"github.com/somewherelostt/Neom1/internal/logging"
	"github.com/somewherelostt/Neom1/ports"
	"github.com/somewherelostt/Neom1/service"
	"github.com/somewherelostt/Neom1/transport/http"
	"github.com/somewherelostt/Neom1/transport/ws"
)

// Options configures New.
type Options struct {
	// Config usually comes from config.Load or config.Default.
	Config config.Config

	// Redis, when set, backs the key store and carries session events
	// on a Redis stream. Otherwise both stay in process.
	Redis redis.UniversalClient

	// Store overrides the key store backend.
	Store ports.Store

	// Wallet overrides Config.WalletKey.
	Wallet ports.Wallet

	Clock clock.Clock
}

// Client is the assembled session client
type Client struct {
	cfg       config.Config
	wallet    ports.Wallet
	transport *ws.Client
	keys      *service.KeyStore
	auth      *service.AuthService
	balances  *service.BalanceService
	publisher message.Publisher
	router    *gin.Engine
	logger    zerolog.Logger
}

var _ Session = (*Client)(nil)

// New creates a client. Nothing connects until Start.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	w := opts.Wallet
	if w == nil && cfg.WalletKey != "" {
		var err error
		if w, err = wallet.FromHex(cfg.WalletKey); err != nil {
			return nil, fmt.Errorf("failed to load wallet: %w", err)
		}
	}

	backend := opts.Store
	publisher, err := newPublisher(opts.Redis)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		if opts.Redis != nil {
			backend = store.NewRedisStore(opts.Redis, "")
		} else {
			backend = store.NewMemoryStore()
		}
	}

	transportLogger := logging.New("transport")
	transport := ws.NewClient(ws.Config{
		URL:                  cfg.WSURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		RequestTimeout:       cfg.RequestTimeout,
		Clock:                clk,
		Logger:               &transportLogger,
	})

	keys := service.NewKeyStore(backend, tokenizer.NewJWTTokenizer(), cfg.StorePrefix, clk, logging.New("keystore"))
	auth := service.NewAuthService(
		service.AuthConfig{
			AppName:         cfg.AppName,
			Scope:           cfg.Scope,
			SessionDuration: cfg.SessionDuration,
			SignTimeout:     cfg.SignTimeout,
		},
		transport,
		keys,
		events.NewWatermillPublisher(publisher, cfg.EventTopic),
		clk,
		logging.New("auth"),
	)
	balances := service.NewBalanceService(transport, auth, logging.New("balances"))

	handlers := http.NewHandlers(auth, transport, balances, logging.New("http"))

	return &Client{
		cfg:       cfg,
		wallet:    w,
		transport: transport,
		keys:      keys,
		auth:      auth,
		balances:  balances,
		publisher: publisher,
		router:    http.SetupRouter(handlers),
		logger:    logging.New("neom"),
	}, nil
}

func newPublisher(client redis.UniversalClient) (message.Publisher, error) {
	logger := logging.NewWatermillAdapter(logging.New("events"))
	if client == nil {
		return gochannel.NewGoChannel(gochannel.Config{}, logger), nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	return publisher, nil
}

// Start restores the stored session, attaches the configured wallet and
// connects. A missing endpoint is logged and leaves the client
// disconnected.
func (c *Client) Start(ctx context.Context) error {
	c.auth.Start(ctx)
	c.balances.Start()
	if c.wallet != nil {
		c.auth.SetWallet(c.wallet)
	}

	if err := c.transport.Connect(); err != nil {
		if errors.Is(err, core.ErrEndpointNotConfigured) {
			c.logger.Warn().Msg("no websocket endpoint configured, staying disconnected")
			return nil
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.logger.Info().Str("url", c.cfg.WSURL).Msg("session client started")
	return nil
}

// Close stops every component and the event publisher.
func (c *Client) Close() error {
	c.balances.Close()
	c.auth.Close()
	return errors.Join(
		c.transport.Close(),
		c.publisher.Close(),
	)
}

// State returns the current authentication snapshot
func (c *Client) State() core.AuthState { return c.auth.State() }

// Subscribe follows authentication snapshots
func (c *Client) Subscribe(fn func(core.AuthState)) func() { return c.auth.Subscribe(fn) }

// Credential returns the stored network credential
func (c *Client) Credential() (core.Credential, bool) { return c.auth.Credential() }

// SetWallet attaches a signing wallet
func (c *Client) SetWallet(w ports.Wallet) { c.auth.SetWallet(w) }

// ClearWallet detaches the wallet
func (c *Client) ClearWallet() { c.auth.ClearWallet() }

// Reset starts over with a fresh session key
func (c *Client) Reset(ctx context.Context) { c.auth.Reset(ctx) }

// Status returns the connection status
func (c *Client) Status() core.ConnectionStatus { return c.transport.Status() }

// Transport returns the connection manager
func (c *Client) Transport() *ws.Client { return c.transport }

// Balances returns the balance tracker
func (c *Client) Balances() *service.BalanceService { return c.balances }

// Router returns the gin router serving the control API
func (c *Client) Router() *gin.Engine { return c.router }
