package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/relayhub/internal/store"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth(opts.Sessions))

	api := router.Group("/api")
	api.GET("/sessions", handleSessions(opts.Sessions))
	api.GET("/bots", handleBots(opts.Store, opts.Sessions))
	api.GET("/events", handleSSE(opts.Sessions, opts.StreamInterval))
}

func handleHealth(sessions SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(sessions.Sessions()),
		})
	}
}

func handleSessions(sessions SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": sessions.Sessions()})
	}
}

func handleBots(st store.Store, sessions SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		bots, err := botSummaries(c.Request.Context(), st, sessions, c.Query("owner"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"bots": bots})
	}
}
