// Command emision-batch runs one scheduler pass over every active tenant and prints its summary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"3tcapital/ms_emision_electronica/internal/application/scheduler"
	"3tcapital/ms_emision_electronica/internal/bootstrap"
	"3tcapital/ms_emision_electronica/internal/infrastructure/config"
	"3tcapital/ms_emision_electronica/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "batch failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the summary only.
	log := logger.NewWithWriter(os.Stderr, cfg.App.Name+"-batch", cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	summary, err := app.Scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}

	for _, t := range summary.Tenants {
		if t.Err != nil {
			log.Error("Tenant pass failed", "tenant_id", t.TenantID, "error", t.Err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(newReport(summary))
}

type tenantReport struct {
	TenantID  string `json:"tenantId"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
	Scanned   int    `json:"scanned"`
	Advanced  int    `json:"advanced"`
	Failed    int    `json:"failed"`
	Held      int    `json:"held"`
	Conflicts int    `json:"conflicts"`
	Errors    int    `json:"errors"`
}

type report struct {
	CorrelationID string         `json:"correlationId"`
	DurationMS    int64          `json:"durationMs"`
	Scanned       int            `json:"scanned"`
	TenantErrors  int            `json:"tenantErrors"`
	Tenants       []tenantReport `json:"tenants"`
}

func newReport(s scheduler.Summary) report {
	r := report{
		CorrelationID: s.CorrelationID,
		DurationMS:    s.FinishedAt.Sub(s.StartedAt).Milliseconds(),
		Scanned:       s.Scanned(),
		TenantErrors:  s.TenantErrors(),
		Tenants:       make([]tenantReport, 0, len(s.Tenants)),
	}
	for _, t := range s.Tenants {
		tr := tenantReport{
			TenantID:  t.TenantID,
			Skipped:   t.Skipped,
			Scanned:   t.Scanned,
			Advanced:  t.Advanced,
			Failed:    t.Failed,
			Held:      t.Held,
			Conflicts: t.Conflicts,
			Errors:    t.Errors,
		}
		if t.Err != nil {
			tr.Error = t.Err.Error()
		}
		r.Tenants = append(r.Tenants, tr)
	}
	return r
}
