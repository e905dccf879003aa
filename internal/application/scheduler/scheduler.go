// Package scheduler periodically picks up documents that stopped mid-workflow.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"3tcapital/ms_emision_electronica/internal/application/issuance"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/lock"
	"3tcapital/ms_emision_electronica/internal/core/tenant"
	ctxutil "3tcapital/ms_emision_electronica/internal/infrastructure/context"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// resumable are the states a background pass advances.
var resumable = []document.State{
	document.StateDraft,
	document.StateBuilt,
	document.StateSigned,
	document.StateValidationPending,
	document.StateAuthorized,
}

// Processor advances one document as far as it can go.
type Processor interface {
	Resume(ctx context.Context, tenantID, documentID string) (*issuance.Result, error)
}

// Config tunes a pass.
type Config struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	TenantWorkers   int
	DocumentWorkers int
	DocumentBatch   int
	LockTTL         time.Duration
}

// TenantReport summarizes one tenant in a pass.
type TenantReport struct {
	TenantID string
	// Skipped is set when another instance held the tenant lock.
	Skipped   bool
	Err       error
	Scanned   int
	Advanced  int
	Failed    int
	Held      int
	Conflicts int
	Errors    int
}

// Summary is the outcome of one pass over all tenants.
type Summary struct {
	CorrelationID string
	StartedAt     time.Time
	FinishedAt    time.Time
	Tenants       []TenantReport
}

// Scanned returns the number of documents looked at across tenants.
func (s Summary) Scanned() int {
	n := 0
	for _, t := range s.Tenants {
		n += t.Scanned
	}
	return n
}

// TenantErrors returns the number of tenants whose scan did not complete.
func (s Summary) TenantErrors() int {
	n := 0
	for _, t := range s.Tenants {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Scheduler runs background passes.
type Scheduler struct {
	tenants   tenant.Registry
	documents document.Repository
	processor Processor
	locker    lock.Locker
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for the stale threshold.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler.
func New(tenants tenant.Registry, documents document.Repository, processor Processor, locker lock.Locker, cfg Config, log *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.TenantWorkers <= 0 {
		cfg.TenantWorkers = 4
	}
	if cfg.DocumentWorkers <= 0 {
		cfg.DocumentWorkers = 4
	}
	if cfg.DocumentBatch <= 0 {
		cfg.DocumentBatch = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}

	s := &Scheduler{
		tenants:   tenants,
		documents: documents,
		processor: processor,
		locker:    locker,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a pass immediately and then every Interval until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Scheduler started", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("Scheduler pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scans every active tenant once. Tenant failures are reported in the Summary; the
// error return is reserved for listing the tenants.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	correlationID := uuid.NewString()
	ctx = ctxutil.WithCorrelationID(ctx, correlationID)
	log := s.log.With("correlation_id", correlationID)

	summary := Summary{CorrelationID: correlationID, StartedAt: s.now()}

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return summary, fmt.Errorf("list tenants: %w", err)
	}
	log.Info("Scheduler pass started", "tenants", len(tenants))

	p := pool.NewWithResults[TenantReport]().WithMaxGoroutines(s.cfg.TenantWorkers)
	for _, t := range tenants {
		p.Go(func() TenantReport {
			return s.runTenant(ctx, log, t)
		})
	}
	summary.Tenants = p.Wait()
	sort.Slice(summary.Tenants, func(i, j int) bool {
		return summary.Tenants[i].TenantID < summary.Tenants[j].TenantID
	})
	summary.FinishedAt = s.now()

	log.Info("Scheduler pass finished",
		"tenants", len(summary.Tenants),
		"documents", summary.Scanned(),
		"tenant_errors", summary.TenantErrors(),
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	return summary, nil
}

// runTenant isolates one tenant: a panic becomes that tenant's error.
func (s *Scheduler) runTenant(ctx context.Context, log *slog.Logger, t tenant.Tenant) (report TenantReport) {
	log = log.With("tenant_id", t.ID)

	var pc panics.Catcher
	pc.Try(func() {
		report = s.scanTenant(ctx, log, t)
	})
	if r := pc.Recovered(); r != nil {
		report = TenantReport{TenantID: t.ID, Err: r.AsError()}
	}

	if report.Err != nil {
		log.Error("Tenant scan failed", "error", report.Err)
	}
	return report
}

func (s *Scheduler) scanTenant(ctx context.Context, log *slog.Logger, t tenant.Tenant) TenantReport {
	report := TenantReport{TenantID: t.ID}

	held, err := s.locker.Obtain(ctx, lock.TenantKey(t.ID), s.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		log.Info("Tenant is being scanned elsewhere, skipping")
		report.Skipped = true
		return report
	}
	if err != nil {
		report.Err = fmt.Errorf("obtain tenant lock: %w", err)
		return report
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release tenant lock", "error", err)
		}
	}()

	docs, err := s.documents.ListByStates(ctx, t.ID, resumable, s.now().Add(-s.cfg.StaleAfter), s.cfg.DocumentBatch)
	if err != nil {
		report.Err = fmt.Errorf("list stale documents: %w", err)
		return report
	}
	if len(docs) == 0 {
		return report
	}

	workers := NewDocumentWorkerPool(ctx, s.cfg.DocumentWorkers, func(ctx context.Context, doc *document.Document) DocumentResult {
		return s.resume(ctx, doc)
	})
	for _, r := range workers.ProcessDocuments(docs) {
		report.Scanned++
		switch {
		case r.Conflict:
			report.Conflicts++
		case r.Err != nil:
			report.Errors++
			log.Error("Failed to resume document", "document_id", r.DocumentID, "state", r.From, "error", r.Err)
		case r.To == document.StateFailed:
			report.Failed++
		case r.To != r.From:
			report.Advanced++
		default:
			report.Held++
		}
	}

	log.Info("Tenant scanned",
		"scanned", report.Scanned,
		"advanced", report.Advanced,
		"failed", report.Failed,
		"held", report.Held,
		"conflicts", report.Conflicts,
		"errors", report.Errors,
	)
	return report
}

// resume advances one document. Losing the state guard to another worker is not an error.
func (s *Scheduler) resume(ctx context.Context, doc *document.Document) DocumentResult {
	result := DocumentResult{DocumentID: doc.ID, From: doc.State, To: doc.State}

	res, err := s.processor.Resume(ctx, doc.TenantID, doc.ID)
	switch {
	case errors.Is(err, document.ErrConcurrentUpdate):
		result.Conflict = true
	case err != nil:
		result.Err = err
	default:
		result.To = res.State
		result.StageErr = res.Err
	}
	return result
}
