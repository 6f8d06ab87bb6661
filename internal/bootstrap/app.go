package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/infra/config"
)

// Refresher regenerates cards for every recipient.
type Refresher interface {
	RefreshAll(ctx context.Context, opts cards.Options) ([]cards.Result, error)
}

// Flusher waits for pending widget publishes.
type Flusher interface {
	Flush()
}

// App encapsulates the HTTP server lifecycle and the periodic refresh loop.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *http.Server
	refresher Refresher
	flusher   Flusher
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, refresher Refresher, flusher Flusher) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With("component", "bootstrap"),
		server:    server,
		refresher: refresher,
		flusher:   flusher,
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.refreshLoop(loopCtx)
	}()

	defer func() {
		stopLoop()
		<-loopDone
		a.flusher.Flush()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// refreshLoop refreshes every recipient once at start and then on each tick.
// It returns immediately when no interval is configured.
func (a *App) refreshLoop(ctx context.Context) {
	interval := a.cfg.Pipeline.RefreshInterval
	if interval <= 0 {
		return
	}
	a.refreshOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshOnce(ctx)
		}
	}
}

func (a *App) refreshOnce(ctx context.Context) {
	start := time.Now()
	results, err := a.refresher.RefreshAll(ctx, cards.Options{})
	if err != nil {
		a.logger.Error("scheduled refresh failed", "error", err)
		return
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	a.logger.Info("scheduled refresh finished", "recipients", len(results), "failed", failed, "duration_ms", time.Since(start).Milliseconds())
}
