package issuance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/notification"
	"3tcapital/ms_emision_electronica/internal/core/signing"
	"3tcapital/ms_emision_electronica/internal/core/storage"

	"github.com/cenkalti/backoff/v4"
)

func (w *Workflow) snapshot(r *run) document.Snapshot {
	return document.Snapshot{Company: *r.company, Document: *r.doc}
}

// build derives the access code and renders the unsigned document.
func (w *Workflow) build(ctx context.Context, r *run) error {
	if r.doc.AccessCode == "" {
		code, err := w.deps.Builder.AccessCode(w.snapshot(r))
		if err != nil {
			return w.reject(ctx, r, document.StageBuild, err, nil)
		}
		r.doc.AccessCode = code
	}

	unsigned, err := w.deps.Builder.Build(w.snapshot(r))
	if err != nil {
		return w.reject(ctx, r, document.StageBuild, err, nil)
	}
	r.unsigned = unsigned
	return w.advance(ctx, r, document.StateBuilt)
}

// sign signs the built document with the company certificate and stores the result.
func (w *Workflow) sign(ctx context.Context, r *run) error {
	if r.unsigned == nil {
		// Resumed run: building is deterministic, so rebuild instead of persisting drafts.
		unsigned, err := w.deps.Builder.Build(w.snapshot(r))
		if err != nil {
			return w.reject(ctx, r, document.StageBuild, err, nil)
		}
		r.unsigned = unsigned
	}

	certificate, err := w.certificate(ctx, r.company)
	if err != nil {
		var creds *signing.InvalidCredentialsError
		if errors.As(err, &creds) {
			return w.reject(ctx, r, document.StageSign, err, nil)
		}
		w.hold(ctx, r, document.StageSign, err, 0)
		return nil
	}

	signCtx, cancel := context.WithTimeout(ctx, w.cfg.SignTimeout)
	defer cancel()

	signed, err := w.deps.Signer.Sign(signCtx, r.unsigned, certificate, r.company.CertificatePassphrase)
	if err != nil {
		var (
			creds   *signing.InvalidCredentialsError
			expired *signing.CertificateExpiredError
		)
		if errors.As(err, &creds) || errors.As(err, &expired) {
			return w.reject(ctx, r, document.StageSign, err, nil)
		}
		w.hold(ctx, r, document.StageSign, fmt.Errorf("sign document: %w", err), 0)
		return nil
	}

	key := storage.SignedXMLKey(r.doc.TenantID, string(r.doc.Kind), r.doc.AccessCode)
	if err := w.deps.Blobs.Put(ctx, key, storage.ContentTypeXML, signed); err != nil {
		w.hold(ctx, r, document.StageSign, fmt.Errorf("store signed document: %w", err), 0)
		return nil
	}
	r.doc.SignedXMLKey = key
	r.signed = signed
	return w.advance(ctx, r, document.StateSigned)
}

func (w *Workflow) certificate(ctx context.Context, company *document.Company) ([]byte, error) {
	if company.CertificateKey == "" {
		return nil, &signing.InvalidCredentialsError{Err: errors.New("company has no signing certificate")}
	}
	data, err := w.deps.Blobs.Get(ctx, company.CertificateKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, &signing.InvalidCredentialsError{Err: fmt.Errorf("certificate %s: %w", company.CertificateKey, err)}
	}
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return data, nil
}

// signedXML returns the signed document of the run, loading it from storage when the run
// was resumed.
func (w *Workflow) signedXML(ctx context.Context, r *run) ([]byte, error) {
	if r.signed != nil {
		return r.signed, nil
	}
	if r.doc.SignedXMLKey == "" {
		return nil, storage.ErrObjectNotFound
	}
	data, err := w.deps.Blobs.Get(ctx, r.doc.SignedXMLKey)
	if err != nil {
		return nil, fmt.Errorf("load signed document: %w", err)
	}
	r.signed = data
	return data, nil
}

// validate submits the signed document to the reception service.
func (w *Workflow) validate(ctx context.Context, r *run) error {
	signed, err := w.signedXML(ctx, r)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return w.reject(ctx, r, document.StageSign, fmt.Errorf("signed document missing: %w", err), nil)
	}
	if err != nil {
		w.hold(ctx, r, document.StageValidate, err, 0)
		return nil
	}

	res, err := w.deps.Authority.SubmitForValidation(ctx, r.doc.Environment, signed)
	var rejected *authority.RejectedError
	switch {
	case errors.As(err, &rejected):
		return w.reject(ctx, r, document.StageValidate, err, rejected.Reasons)
	case err != nil:
		w.hold(ctx, r, document.StageValidate, err, 0)
		return nil
	case !res.Accepted:
		rejected = &authority.RejectedError{Stage: document.StageValidate, Reasons: res.Reasons}
		return w.reject(ctx, r, document.StageValidate, rejected, res.Reasons)
	}
	return w.advance(ctx, r, document.StateValidationPending)
}

// authorize requests the authorization and polls until it is decided or the policy gives up.
// Every undecided attempt leaves a submission error behind.
func (w *Workflow) authorize(ctx context.Context, r *run) error {
	var (
		decided  authority.AuthorizationResult
		attempts int
		last     error
	)

	err := w.policy.Run(ctx, func(attempt int) error {
		attempts = attempt
		call := w.deps.Authority.FetchStatus
		if attempt == 1 {
			call = w.deps.Authority.RequestAuthorization
		}

		res, err := call(ctx, r.doc.Environment, r.doc.AccessCode)
		var rejected *authority.RejectedError
		switch {
		case errors.As(err, &rejected):
			// Recorded below with the other rejection.
		case err != nil:
			last = err
			w.record(ctx, r, document.StageAuthorize, err, nil, attempt)
			return err
		case res.Status == authority.StatusAuthorized:
			decided = res
			return nil
		case res.Status == authority.StatusRejected:
			rejected = &authority.RejectedError{Stage: document.StageAuthorize, Reasons: res.Reasons}
		default:
			last = errStillPending
			w.record(ctx, r, document.StageAuthorize, errStillPending, res.Reasons, attempt)
			return errStillPending
		}

		last = rejected
		w.record(ctx, r, document.StageAuthorize, rejected, rejected.Reasons, attempt)
		return backoff.Permanent(rejected)
	})

	var rejected *authority.RejectedError
	switch {
	case err == nil:
		at := w.now()
		if decided.AuthorizedAt != nil {
			at = *decided.AuthorizedAt
		}
		r.doc.AuthorizedAt = &at
		return w.advance(ctx, r, document.StateAuthorized)
	case errors.As(err, &rejected):
		return w.fail(ctx, r, document.StageAuthorize, rejected, rejected.Reasons)
	case errors.Is(last, errStillPending) && ctx.Err() == nil:
		return w.fail(ctx, r, document.StageAuthorize, &authority.TimeoutExceededError{Attempts: attempts}, nil)
	default:
		r.stop(document.StageAuthorize, err, nil)
		r.log.Warn("Authorization undecided, will be retried", "attempts", attempts, "error", err)
		return nil
	}
}

// notify renders, stores and sends the receipt, then marks the document notified. A
// delivery failure keeps the document authorized for the scheduler to retry.
func (w *Workflow) notify(ctx context.Context, r *run) error {
	if err := w.deliver(ctx, r); err != nil {
		w.record(ctx, r, document.StageNotify, err, nil, 0)
		r.stop(document.StageNotify, err, nil)
		r.log.Error("Failed to notify buyer", "error", err)
		return nil
	}
	now := w.now()
	r.doc.NotifiedAt = &now
	return w.advance(ctx, r, document.StateNotified)
}

func (w *Workflow) deliver(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.NotifyTimeout)
	defer cancel()

	pdf, err := w.deps.Renderer.Render(r.doc, r.company)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}
	key := storage.ReceiptKey(r.doc.TenantID, string(r.doc.Kind), r.doc.AccessCode)
	if err := w.deps.Blobs.Put(ctx, key, storage.ContentTypePDF, pdf); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	r.doc.PDFKey = key

	signed, err := w.signedXML(ctx, r)
	if err != nil {
		return err
	}

	if strings.TrimSpace(r.doc.Client.Email) == "" {
		r.log.Info("Buyer has no email, skipping delivery")
		return nil
	}

	link, err := w.deps.Blobs.URL(ctx, key, w.cfg.ReceiptURLTTL)
	if err != nil {
		r.log.Warn("Failed to presign receipt link", "error", err)
		link = ""
	}

	msg := notification.Message{
		To:      r.doc.Client.Email,
		Subject: fmt.Sprintf("%s %s - %s", kindTitle(r.doc.Kind), r.doc.FullNumber, companyName(r.company)),
		Body:    messageBody(r.doc, r.company, link),
		Attachments: []notification.Attachment{
			{Name: r.doc.AccessCode + ".xml", ContentType: storage.ContentTypeXML, Data: signed},
			{Name: r.doc.AccessCode + ".pdf", ContentType: storage.ContentTypePDF, Data: pdf},
		},
	}
	if err := w.deps.Notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	r.log.Info("Buyer notified", "to", msg.To)
	return nil
}

func kindTitle(k document.Kind) string {
	if k == document.KindCreditNote {
		return "Nota de crédito"
	}
	return "Factura"
}

func companyName(c *document.Company) string {
	if c.TradeName != "" {
		return c.TradeName
	}
	return c.LegalName
}

func messageBody(doc *document.Document, company *document.Company, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Estimado(a) %s,\n\n", doc.Client.Name)
	fmt.Fprintf(&b, "%s le informa que se ha emitido su %s electrónica No. %s por un valor de %s.\n\n",
		company.LegalName, strings.ToLower(kindTitle(doc.Kind)), doc.FullNumber, doc.Total.StringFixed(document.MoneyPlaces))
	fmt.Fprintf(&b, "Clave de acceso: %s\n", doc.AccessCode)
	if link != "" {
		fmt.Fprintf(&b, "Descargue su comprobante: %s\n", link)
	}
	b.WriteString("\nAdjuntamos el comprobante en formato XML y PDF.\n")
	return b.String()
}
