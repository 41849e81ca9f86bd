package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/rpc"
	"github.com/somewherelostt/Neom1/service"
)

// Session is the part of the auth service the control API drives.
type Session interface {
	State() core.AuthState
	Reset(ctx context.Context)
}

// Connection is the part of the transport the control API drives.
type Connection interface {
	Status() core.ConnectionStatus
	ForceReconnect()
}

// Balances serves cached and fresh ledger balances.
type Balances interface {
	Balances() []core.Balance
	Fetch(ctx context.Context) ([]core.Balance, error)
}

// Handlers contains HTTP handlers for the control API
type Handlers struct {
	session  Session
	conn     Connection
	balances Balances
	logger   zerolog.Logger
}

// NewHandlers creates new control API handlers
func NewHandlers(session Session, conn Connection, balances Balances, logger zerolog.Logger) *Handlers {
	return &Handlers{
		session:  session,
		conn:     conn,
		balances: balances,
		logger:   logger,
	}
}

// Session returns the current authentication snapshot
func (h *Handlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.State())
}

// ResetSession drops the credential and starts a fresh handshake
func (h *Handlers) ResetSession(c *gin.Context) {
	h.session.Reset(c.Request.Context())
	c.JSON(http.StatusAccepted, h.session.State())
}

// Connection reports the transport status
func (h *Handlers) Connection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.conn.Status()})
}

// Reconnect tears the socket down and dials again
func (h *Handlers) Reconnect(c *gin.Context) {
	h.conn.ForceReconnect()
	c.JSON(http.StatusAccepted, gin.H{"message": "reconnecting"})
}

// Verify checks a signed auth response against an expected address
func (h *Handlers) Verify(c *gin.Context) {
	var req struct {
		Response        *rpc.Response `json:"response" binding:"required"`
		ExpectedAddress string        `json:"expected_address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result := service.ProcessAuthResponse(*req.Response, req.ExpectedAddress)
	switch {
	case result.Authenticated:
		c.JSON(http.StatusOK, result)
	case result.Stage == service.StageShape:
		c.JSON(http.StatusBadRequest, result)
	default:
		c.JSON(http.StatusUnauthorized, result)
	}
}

// Balances returns ledger balances, fetching them when nothing is cached
// or when refresh=true is passed.
func (h *Handlers) Balances(c *gin.Context) {
	cached := h.balances.Balances()
	if len(cached) > 0 && c.Query("refresh") != "true" {
		c.JSON(http.StatusOK, gin.H{"balances": cached})
		return
	}

	balances, err := h.balances.Fetch(c.Request.Context())
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to fetch balances"

		switch {
		case errors.Is(err, core.ErrNotAuthenticated):
			statusCode = http.StatusUnauthorized
			errorMsg = "Session is not authenticated"
		case errors.Is(err, core.ErrNotConnected):
			statusCode = http.StatusServiceUnavailable
			errorMsg = "Not connected to the network"
		case errors.Is(err, core.ErrRequestTimeout):
			statusCode = http.StatusGatewayTimeout
			errorMsg = "Balance request timed out"
		case errors.Is(err, core.ErrRemote):
			statusCode = http.StatusBadGateway
			errorMsg = "Network rejected the balance request"
		}

		h.logger.Warn().Err(err).Int("status", statusCode).Msg("balance fetch failed")
		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balances": balances})
}
