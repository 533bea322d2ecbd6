package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/mystic-shorts/runner"
	"github.com/sadewadee/mystic-shorts/runner/databaserunner"
	"github.com/sadewadee/mystic-shorts/runner/managerrunner"
	"github.com/sadewadee/mystic-shorts/runner/relayrunner"
	"github.com/sadewadee/mystic-shorts/runner/workerrunner"
	"github.com/sadewadee/mystic-shorts/tlmt"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Banner()

	cfg, err := runner.ParseConfig()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	if err := setupLogging(cfg); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	runner.SetupTelemetry(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		log.Info("received signal, shutting down...")

		cancel()
	}()

	log.WithField("mode", cfg.RunMode).Info("starting application")

	runnerInstance, err := runnerFactory(ctx, cfg)
	if err != nil {
		cancel()
		log.WithError(err).Error("failed to start")

		runner.Telemetry().Close()

		os.Exit(1)
	}

	_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("app.start", "", map[string]any{
		"mode":    cfg.RunMode,
		"version": runner.Version,
	}))

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Close gets a fresh context: ctx is already cancelled on shutdown
	if err := egroup.Wait(); err != nil {
		log.WithError(err).Error("runner failed")
		_ = runnerInstance.Close(context.Background())
		runner.Telemetry().Close()
		os.Exit(1)
	}

	if err := runnerInstance.Close(context.Background()); err != nil {
		log.WithError(err).Warn("shutdown finished with errors")
	}
	runner.Telemetry().Close()

	os.Exit(0)
}

func runnerFactory(ctx context.Context, cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeStandalone, runner.RunModeAPI:
		return managerrunner.New(ctx, cfg)
	case runner.RunModeWorker:
		return workerrunner.New(ctx, cfg)
	case runner.RunModeMigrate:
		return databaserunner.New(cfg)
	case runner.RunModeRelay:
		return relayrunner.New(cfg)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}

func setupLogging(cfg *runner.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	log.SetOutput(os.Stderr)

	return nil
}
