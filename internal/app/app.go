package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tickerd/tickerd/internal/config"
	"github.com/tickerd/tickerd/internal/host"
	"github.com/tickerd/tickerd/internal/launcher"
	"github.com/tickerd/tickerd/internal/logging"
	"github.com/tickerd/tickerd/internal/ticker"
	"github.com/tickerd/tickerd/internal/tickstore"
	"go.uber.org/zap"
)

type App struct {
	config *config.Config
}

func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
	}
}

func (a *App) Run(ctx context.Context) error {
	return run(ctx, a.config)
}

func run(mainContext context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(
		logging.WithLogLevel(cfg.LogLevel),
	)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting tickerd", cfg.LogConfigurationSummary()...)

	if err := runMigration(mainContext, cfg, logger); err != nil {
		return err
	}

	h := host.New(logger,
		host.WithMaxWorkers(cfg.MaxWorkers),
		host.WithShutdownTimeout(10*time.Second),
	)

	// Reloads re-read the same config file the process started with, so a
	// SIGHUP picks up edits without a restart.
	source := config.NewFileSource(config.Flags{Config: cfg.ConfigFilePath()})
	sessions := tickstore.NewFactory(cfg.PostgresURL)

	tickerOpts := []ticker.RuntimeOption{
		ticker.WithActivityReporter(h.Health()),
		ticker.WithSupervisorDone(h.Done()),
	}

	// A configured target database registers one ticker before the host
	// starts. Without it, workers only come up through the launch API.
	if cfg.TargetDatabase != "" {
		rt := ticker.New("tickerd", source, sessions, logger, tickerOpts...)
		spec := launcher.WorkerSpec(rt, cfg.TargetDatabase, cfg.RestartDelaySeconds)
		if err := h.RegisterWorker(spec); err != nil {
			logger.Error("failed to register ticker worker", zap.Error(err))
			return err
		}
		logger.Debug("registered static ticker worker",
			zap.String("database", cfg.TargetDatabase))
	} else {
		logger.Info("no target database configured, waiting for launch requests")
	}

	launch := launcher.NewWithHost(h, source, func(name, database string) *ticker.Runtime {
		opts := append([]ticker.RuntimeOption{ticker.WithLaunchDatabase(database)}, tickerOpts...)
		return ticker.New(name, source, sessions, logger, opts...)
	})

	registered, err := registerHTTPServer(h, cfg, launch, logger)
	if err != nil {
		logger.Error("failed to register http worker", zap.Error(err))
		return err
	}
	if !registered {
		logger.Info("health endpoint disabled")
	}

	// Set up cancellation context
	ctx, cancel := context.WithCancel(mainContext)
	defer cancel()

	// SIGTERM/SIGINT stop the host; SIGHUP fans a reload out to every
	// running worker.
	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(termChan)
	defer signal.Stop(reloadChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- h.Run(ctx)
	}()

	var exitErr error
loop:
	for {
		select {
		case <-reloadChan:
			logger.Info("reload signal received")
			h.Broadcast(host.SignalReload)
		case <-termChan:
			logger.Info("shutdown signal received")
			cancel() // Cancel context to trigger graceful shutdown
			err := <-errChan
			// context.Canceled is expected during graceful shutdown
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("error during graceful shutdown", zap.Error(err))
				exitErr = err
			}
			break loop
		case err := <-errChan:
			// Host exited without a termination signal
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("host exited unexpectedly", zap.Error(err))
				exitErr = err
			}
			break loop
		}
	}

	logger.Info("tickerd shutdown complete")

	return exitErr
}
