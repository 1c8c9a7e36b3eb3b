package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/domain/repository"
	"MarketScreener/internal/service/broker"
	"MarketScreener/internal/usecase"
	"MarketScreener/pkg/config"
	xhttp "MarketScreener/pkg/http"
	applogger "MarketScreener/pkg/logger"
)

// App encapsulates the entire application lifecycle: the HTTP server, the
// scheduled screening loop, the optional quote stream, and the optional
// selection publisher.
type App struct {
	cfg       *config.Config
	logger    *applogger.Logger
	screener  *usecase.Screener
	stream    *broker.Stream
	publisher repository.ResultPublisher

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	universe    []models.Symbol

	running atomic.Bool
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	screener *usecase.Screener,
	stream *broker.Stream,
	publisher repository.ResultPublisher,
	handler xhttp.Handler,
) *App {
	universe := make([]models.Symbol, 0, len(cfg.Screener.Universe))
	for _, s := range cfg.Screener.Universe {
		universe = append(universe, models.Symbol(s))
	}
	return &App{
		cfg:         cfg,
		logger:      logger,
		screener:    screener,
		stream:      stream,
		publisher:   publisher,
		httpHandler: handler,
		universe:    universe,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.logger),
	)
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.stream != nil {
		go func() {
			if err := a.stream.Run(ctx); err != nil {
				a.logger.Error("quote stream error", applogger.Error(err))
			}
		}()
		a.logger.Info("quote stream started", applogger.String("url", a.cfg.Broker.StreamURL))
	}

	if a.cfg.Screener.Interval > 0 {
		go a.scheduleRuns(ctx)
		a.logger.Info("scheduled screening enabled",
			applogger.Duration("interval_ms", a.cfg.Screener.Interval),
			applogger.Int("universe", len(a.universe)),
		)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// scheduleRuns executes one screening pass per interval. A tick that arrives
// while the previous run is still in flight is skipped.
func (a *App) scheduleRuns(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Screener.Interval)
	defer ticker.Stop()

	a.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *App) runOnce(ctx context.Context) {
	if !a.running.CompareAndSwap(false, true) {
		a.logger.Warn("previous screening run still in flight, skipping tick")
		return
	}
	defer a.running.Store(false)

	selected, stats, err := a.screener.Run(ctx, a.universe)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Error("scheduled screening run failed", applogger.Error(err))
		}
		return
	}

	a.logger.Info("scheduled screening run complete",
		applogger.Int("universe", stats.UniverseSize),
		applogger.Int("coarse", stats.CoarseSurvivors),
		applogger.Int("detail", stats.DetailSurvivors),
		applogger.Int("selected", stats.SelectedCount),
		applogger.Int64("cache_hits", stats.CacheHits),
		applogger.Int("retries", stats.Retries),
		applogger.Duration("elapsed_ms", stats.Elapsed),
	)

	if a.publisher != nil {
		report := &models.SelectionReport{RunAt: stats.RunAt, Selected: selected, Stats: stats}
		if err := a.publisher.PublishSelection(ctx, report); err != nil {
			a.logger.Error("selection publish failed", applogger.Error(err))
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if closer, ok := a.publisher.(interface{ Close() error }); ok && a.publisher != nil {
		if err := closer.Close(); err != nil {
			a.logger.Warn("publisher close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
