// Package dashboard serves a read-only JSON status API for the hub: health,
// managed bot sessions and per-bot counts.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/relayhub/internal/relay"
	"github.com/zulandar/relayhub/internal/store"
)

// SessionLister reports live managed bot sessions. *relay.Daemon and
// *relay.Multiplexer implement it.
type SessionLister interface {
	Sessions() []relay.SessionInfo
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Store    store.Store
	Sessions SessionLister
	Port     int
	Out      io.Writer
	// StreamInterval is how often /api/events pushes a session snapshot.
	StreamInterval time.Duration
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := newRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8088
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter validates opts and builds the gin engine.
func newRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("dashboard: store is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("dashboard: sessions is required")
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 5 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}
