package http

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter sets up the Gin router
func SetupRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/session", handlers.Session)
	router.POST("/session/reset", handlers.ResetSession)

	router.GET("/connection", handlers.Connection)
	router.POST("/connection/reconnect", handlers.Reconnect)

	router.POST("/auth/verify", handlers.Verify)

	// Routes that need a live session
	api := router.Group("/api")
	api.Use(RequireAuthenticated(handlers.session))
	{
		api.GET("/balances", handlers.Balances)
	}

	return router
}
