// Package issuance drives tax documents from creation to notification.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/notification"
	"3tcapital/ms_emision_electronica/internal/core/receipt"
	"3tcapital/ms_emision_electronica/internal/core/signing"
	"3tcapital/ms_emision_electronica/internal/core/storage"
	"3tcapital/ms_emision_electronica/internal/core/submission"
	"3tcapital/ms_emision_electronica/internal/infrastructure/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Config tunes retries and stage timeouts.
type Config struct {
	MaxAttempts       int
	RetryInterval     time.Duration
	SignTimeout       time.Duration
	NotifyTimeout     time.Duration
	ReceiptURLTTL     time.Duration
	NotifyOnAuthorize bool
	CompanyCacheTTL   time.Duration
}

// Dependencies are the ports the workflow drives.
type Dependencies struct {
	Tx          document.TxRunner
	Documents   document.Repository
	Companies   document.CompanyRepository
	Submissions submission.Repository
	Builder     document.Builder
	Signer      signing.Signer
	Authority   authority.Client
	Blobs       storage.BlobStore
	Renderer    receipt.Renderer
	Notifier    notification.Notifier
}

// Result is what a synchronous caller learns about a run.
type Result struct {
	Document *document.Document
	State    document.State
	// Stage is where the run stopped with an error, failed or not.
	Stage       document.Stage
	FailedStage document.Stage
	Reasons     []authority.Reason
	Err         error
}

// Workflow is the issuance state machine.
type Workflow struct {
	deps      Dependencies
	cfg       Config
	policy    RetryPolicy
	companies *cache.Cache
	log       *slog.Logger
	now       func() time.Time
}

// Option customizes a Workflow.
type Option func(*Workflow)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

// New creates a workflow.
func New(deps Dependencies, cfg Config, log *slog.Logger, opts ...Option) *Workflow {
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = 10 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	if cfg.ReceiptURLTTL <= 0 {
		cfg.ReceiptURLTTL = 24 * time.Hour
	}
	if cfg.CompanyCacheTTL <= 0 {
		cfg.CompanyCacheTTL = 5 * time.Minute
	}

	w := &Workflow{
		deps:      deps,
		cfg:       cfg,
		policy:    NewRetryPolicy(cfg.MaxAttempts, cfg.RetryInterval),
		companies: cache.New(cfg.CompanyCacheTTL, 2*cfg.CompanyCacheTTL),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// run carries one pass of a document through the stages.
type run struct {
	doc      *document.Document
	company  *document.Company
	log      *slog.Logger
	unsigned []byte
	signed   []byte
	notify   bool

	stage    document.Stage
	stageErr error
	reasons  []authority.Reason
}

func (r *run) stop(stage document.Stage, err error, reasons []authority.Reason) {
	r.stage = stage
	r.stageErr = err
	r.reasons = reasons
}

func (r *run) result() *Result {
	return &Result{
		Document:    r.doc,
		State:       r.doc.State,
		Stage:       r.stage,
		FailedStage: r.doc.FailedStage,
		Reasons:     r.reasons,
		Err:         r.stageErr,
	}
}

func (w *Workflow) newRun(doc *document.Document, company *document.Company) *run {
	return &run{
		doc:     doc,
		company: company,
		log:     logger.ForDocument(w.log, doc.TenantID, doc.ID).With("full_number", doc.FullNumber, "kind", doc.Kind),
		notify:  w.cfg.NotifyOnAuthorize,
	}
}

// Process advances a document as far as it can go. Stage failures are reported in the
// Result; the error return is reserved for loading and persistence problems, including
// document.ErrConcurrentUpdate when another worker moved the document first.
func (w *Workflow) Process(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := w.deps.Documents.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	company, err := w.company(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return w.drive(ctx, w.newRun(doc, company))
}

// Resume is Process for background passes: authorized documents are always notified,
// whatever NotifyOnAuthorize says.
func (w *Workflow) Resume(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := w.deps.Documents.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	company, err := w.company(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r := w.newRun(doc, company)
	r.notify = true
	return w.drive(ctx, r)
}

func (w *Workflow) drive(ctx context.Context, r *run) (*Result, error) {
	for {
		var err error
		switch r.doc.State {
		case document.StateDraft:
			err = w.build(ctx, r)
		case document.StateBuilt:
			err = w.sign(ctx, r)
		case document.StateSigned:
			err = w.validate(ctx, r)
		case document.StateValidationPending:
			err = w.authorize(ctx, r)
		case document.StateAuthorized:
			if !r.notify {
				return r.result(), nil
			}
			err = w.notify(ctx, r)
		default:
			return r.result(), nil
		}
		if err != nil {
			return nil, err
		}
		if r.stageErr != nil {
			return r.result(), nil
		}
	}
}

// advance persists the move to state to, guarded by the current state.
func (w *Workflow) advance(ctx context.Context, r *run, to document.State) error {
	from := r.doc.State
	if !document.CanTransition(from, to) {
		return &document.InvalidTransitionError{From: from, To: to}
	}

	r.doc.State = to
	if err := w.deps.Documents.UpdateState(context.WithoutCancel(ctx), r.doc, from); err != nil {
		r.doc.State = from
		return fmt.Errorf("move document %s from %s to %s: %w", r.doc.ID, from, to, err)
	}
	r.log.Info("Document state changed", "from", from, "to", to)
	return nil
}

// fail moves the document to failed without recording a submission error.
func (w *Workflow) fail(ctx context.Context, r *run, stage document.Stage, cause error, reasons []authority.Reason) error {
	r.doc.FailedStage = stage
	r.doc.FailureReason = cause.Error()
	if err := w.advance(ctx, r, document.StateFailed); err != nil {
		return err
	}
	r.stop(stage, cause, reasons)
	r.log.Warn("Document failed", "stage", stage, "error", cause)
	return nil
}

// reject records the stage error and moves the document to failed.
func (w *Workflow) reject(ctx context.Context, r *run, stage document.Stage, cause error, reasons []authority.Reason) error {
	w.record(ctx, r, stage, cause, reasons, 0)
	return w.fail(ctx, r, stage, cause, reasons)
}

// hold records a retryable stage error and leaves the state untouched.
func (w *Workflow) hold(ctx context.Context, r *run, stage document.Stage, cause error, attempt int) {
	w.record(ctx, r, stage, cause, nil, attempt)
	r.stop(stage, cause, nil)
	r.log.Warn("Document stage will be retried", "stage", stage, "state", r.doc.State, "error", cause)
}

// record writes a submission error outside any transaction. A failed write is logged and
// never changes the outcome of the stage.
func (w *Workflow) record(ctx context.Context, r *run, stage document.Stage, cause error, reasons []authority.Reason, attempt int) {
	reference := r.doc.AccessCode
	if reference == "" {
		reference = r.doc.FullNumber
	}
	e := submission.Error{
		ID:          uuid.NewString(),
		TenantID:    r.doc.TenantID,
		DocumentID:  r.doc.ID,
		Stage:       stage,
		Environment: r.doc.Environment,
		Reference:   reference,
		Payload: submission.Payload{
			Error:   cause.Error(),
			Kind:    errorKind(cause),
			Reasons: reasons,
			Attempt: attempt,
		},
		OccurredAt: w.now(),
	}
	if err := w.deps.Submissions.Record(context.WithoutCancel(ctx), e); err != nil {
		r.log.Error("Failed to record submission error", "stage", stage, "error", err)
	}
}

func errorKind(err error) string {
	var (
		malformed *document.MalformedDocumentError
		creds     *signing.InvalidCredentialsError
		expired   *signing.CertificateExpiredError
		rejected  *authority.RejectedError
		transient *authority.TransientSubmissionError
		timeout   *authority.TimeoutExceededError
	)
	switch {
	case errors.As(err, &malformed):
		return "malformed_document"
	case errors.As(err, &creds):
		return "invalid_credentials"
	case errors.As(err, &expired):
		return "certificate_expired"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.Is(err, errStillPending):
		return "pending"
	case errors.As(err, &transient):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// company returns the issuing company of a tenant through the cache.
func (w *Workflow) company(ctx context.Context, tenantID string) (*document.Company, error) {
	if cached, ok := w.companies.Get(tenantID); ok {
		c := *cached.(*document.Company)
		return &c, nil
	}

	c, err := w.deps.Companies.GetCompany(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load company of tenant %s: %w", tenantID, err)
	}
	w.companies.Set(tenantID, c, cache.DefaultExpiration)

	out := *c
	return &out, nil
}

// InvalidateCompany drops the cached company of a tenant after it was edited.
func (w *Workflow) InvalidateCompany(tenantID string) {
	w.companies.Delete(tenantID)
}
