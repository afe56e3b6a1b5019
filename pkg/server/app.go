package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"StockPulse/internal/domain/repository"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
	applogger "StockPulse/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	broker     repository.Broker
	workers    *usecase.Workers
	handler    xhttp.Handler
	archive    repository.OHLCVArchive
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	broker repository.Broker,
	workers *usecase.Workers,
	handler xhttp.Handler,
	archive repository.OHLCVArchive,
) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		broker:  broker,
		workers: workers,
		handler: handler,
		archive: archive,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(a.logger),
	)

	// Handlers must be in place before the broker starts consuming.
	a.workers.Register(a.broker)
	if err := a.broker.Start(); err != nil {
		a.logger.Error("broker start error", applogger.Error(err))
		return err
	}
	a.logger.Info("broker started", applogger.String("type", a.cfg.Broker.Type))

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}
	a.logger.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new requests first, then drain workers.
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if err := a.broker.Stop(ctx); err != nil {
		a.logger.Warn("broker stop error", applogger.Error(err))
	}

	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("archive close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
