// Package ops serves a read-only HTTP status API for operators.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/poapbot/internal/models"
	"github.com/zulandar/poapbot/internal/schedule"
	"github.com/zulandar/poapbot/internal/setup"
)

// SessionLister reports the active setup sessions.
type SessionLister interface {
	Sessions() []setup.SessionInfo
}

// EventLister reads stored events and their code counts.
type EventLister interface {
	ListGuild(ctx context.Context, guildID string) ([]models.Event, error)
	CodeStats(ctx context.Context, eventID uint) (total, claimed int, err error)
}

// JobLister reports the pending announcements.
type JobLister interface {
	Pending() []schedule.Job
}

// StartOpts holds configuration for the ops server.
type StartOpts struct {
	Sessions SessionLister
	Events   EventLister
	Jobs     JobLister // optional
	Port     int
	Logger   *slog.Logger
	// PollInterval is how often the session stream checks for changes.
	PollInterval time.Duration
}

func (o StartOpts) validate() error {
	if o.Sessions == nil {
		return fmt.Errorf("ops: session lister is required")
	}
	if o.Events == nil {
		return fmt.Errorf("ops: event lister is required")
	}
	return nil
}

// NewRouter builds the gin engine with every ops route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the ops HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
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

	logger.Info("ops: listening", "port", opts.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops: %w", err)
	}
	return nil
}
