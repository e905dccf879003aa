package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	documenthttp "3tcapital/ms_emision_electronica/internal/adapters/http/document"
	healthhttp "3tcapital/ms_emision_electronica/internal/adapters/http/health"
	"3tcapital/ms_emision_electronica/internal/bootstrap"
	"3tcapital/ms_emision_electronica/internal/infrastructure/config"
	"3tcapital/ms_emision_electronica/internal/infrastructure/http/server"
	"3tcapital/ms_emision_electronica/internal/infrastructure/logger"

	"github.com/sourcegraph/conc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	srv, err := server.New(server.Options{
		Config:          cfg,
		Logger:          log,
		HealthHandler:   http.HandlerFunc(healthhttp.NewHandler(app.Health).Status),
		DocumentHandler: documenthttp.NewHandler(app.Workflow, log),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	var wg conc.WaitGroup
	if cfg.Scheduler.Enabled {
		wg.Go(func() { app.Scheduler.Start(ctx) })
	} else {
		log.Info("Scheduler disabled, stale documents are only resumed by the batch command")
	}

	log.Info("Starting HTTP server", "port", cfg.HTTP.Port)
	err = srv.Run(ctx)
	// A server that fails to start must also stop the scheduler.
	stop()
	wg.Wait()
	return err
}
