package issuance

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/notification"
	"3tcapital/ms_emision_electronica/internal/core/signing"
	"3tcapital/ms_emision_electronica/internal/core/storage"
)

func TestCreateSale_IssuesAndNotifies(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()

	res := h.createSale(t, w, 2)

	if res.Err != nil {
		t.Fatalf("unexpected stage error at %s: %v", res.Stage, res.Err)
	}
	if res.State != document.StateNotified {
		t.Fatalf("expected state %s, got %s", document.StateNotified, res.State)
	}

	doc := res.Document
	if got := doc.Total.StringFixed(2); got != "23.00" {
		t.Errorf("expected total 23.00, got %s", got)
	}
	if doc.FullNumber != "001-002-000000001" {
		t.Errorf("expected full number 001-002-000000001, got %s", doc.FullNumber)
	}
	if len(doc.AccessCode) != 49 {
		t.Errorf("expected 49 digit access code, got %q", doc.AccessCode)
	}
	if doc.AuthorizedAt == nil || doc.NotifiedAt == nil {
		t.Errorf("expected authorization and notification timestamps, got %v / %v", doc.AuthorizedAt, doc.NotifiedAt)
	}

	a, b := h.remaining(t)
	if a != 0 || b != 4 {
		t.Errorf("expected lots drawn FIFO to (0, 4), got (%d, %d)", a, b)
	}

	stored, err := w.Get(context.Background(), testTenant, doc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.State != document.StateNotified {
		t.Errorf("expected stored state %s, got %s", document.StateNotified, stored.State)
	}
	if stored.SignedXMLKey != storage.SignedXMLKey(testTenant, string(document.KindInvoice), doc.AccessCode) {
		t.Errorf("unexpected signed xml key %q", stored.SignedXMLKey)
	}
	if stored.PDFKey != storage.ReceiptKey(testTenant, string(document.KindInvoice), doc.AccessCode) {
		t.Errorf("unexpected receipt key %q", stored.PDFKey)
	}

	sent := h.notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].To != "juan@example.com" {
		t.Errorf("expected message to juan@example.com, got %s", sent[0].To)
	}
	if len(sent[0].Attachments) != 2 {
		t.Errorf("expected xml and pdf attachments, got %d", len(sent[0].Attachments))
	}

	if calls := h.auth.Calls(); !reflect.DeepEqual(calls, []string{"validate", "authorize"}) {
		t.Errorf("unexpected authority calls %v", calls)
	}

	errs, err := w.Errors(context.Background(), testTenant, doc.ID)
	if err != nil {
		t.Fatalf("Errors() error = %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("expected no submission errors, got %d", len(errs))
	}
}

func TestCreateSale_StopsAtAuthorizedWithoutNotify(t *testing.T) {
	h := newHarness(t)
	h.cfg.NotifyOnAuthorize = false
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateAuthorized {
		t.Fatalf("expected state %s, got %s", document.StateAuthorized, res.State)
	}
	if len(h.notifier.Sent()) != 0 {
		t.Errorf("expected no messages, got %d", len(h.notifier.Sent()))
	}
}

func TestAuthorize_PendingExhaustsAttempts(t *testing.T) {
	h := newHarness(t)
	h.auth.RequestAuthorizationFunc = pending
	h.auth.FetchStatusFunc = pending
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageAuthorize {
		t.Fatalf("expected failed at authorize, got %s/%s", res.State, res.FailedStage)
	}
	var timeout *authority.TimeoutExceededError
	if !errors.As(res.Err, &timeout) {
		t.Fatalf("expected TimeoutExceededError, got %v", res.Err)
	}
	if timeout.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", timeout.Attempts)
	}

	errs, err := w.Errors(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Errors() error = %v", err)
	}
	if len(errs) != 3 {
		t.Fatalf("expected 3 submission errors, got %d", len(errs))
	}
	for i, e := range errs {
		if e.Stage != document.StageAuthorize {
			t.Errorf("error %d: expected stage authorize, got %s", i, e.Stage)
		}
		if e.Payload.Kind != "pending" {
			t.Errorf("error %d: expected kind pending, got %s", i, e.Payload.Kind)
		}
		if e.Payload.Attempt != i+1 {
			t.Errorf("error %d: expected attempt %d, got %d", i, i+1, e.Payload.Attempt)
		}
		if e.Reference != res.Document.AccessCode {
			t.Errorf("error %d: expected access code reference, got %s", i, e.Reference)
		}
	}

	want := []string{"validate", "authorize", "status", "status"}
	if calls := h.auth.Calls(); !reflect.DeepEqual(calls, want) {
		t.Errorf("expected calls %v, got %v", want, calls)
	}
}

func TestAuthorize_PendingThenAuthorized(t *testing.T) {
	h := newHarness(t)
	h.auth.RequestAuthorizationFunc = pending
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateNotified {
		t.Fatalf("expected state %s, got %s (%v)", document.StateNotified, res.State, res.Err)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 1 {
		t.Errorf("expected 1 pending record, got %d", len(errs))
	}
}

func TestAuthorize_Rejected(t *testing.T) {
	h := newHarness(t)
	reasons := []authority.Reason{{Code: "45", Message: "SECUENCIAL REGISTRADO"}}
	h.auth.RequestAuthorizationFunc = func(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
		return authority.AuthorizationResult{Status: authority.StatusRejected, AccessCode: accessCode, Reasons: reasons}, nil
	}
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageAuthorize {
		t.Fatalf("expected failed at authorize, got %s/%s", res.State, res.FailedStage)
	}
	if !reflect.DeepEqual(res.Reasons, reasons) {
		t.Errorf("expected reasons %v, got %v", reasons, res.Reasons)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 1 || errs[0].Payload.Kind != "rejected" {
		t.Fatalf("expected one rejected record, got %+v", errs)
	}
	if calls := h.auth.Calls(); slices.Contains(calls, "status") {
		t.Errorf("expected no polling after a rejection, got %v", calls)
	}
}

func TestAuthorize_TransientKeepsValidationPending(t *testing.T) {
	h := newHarness(t)
	unavailable := func(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
		return authority.AuthorizationResult{}, &authority.TransientSubmissionError{Op: "authorize", Err: errors.New("503 service unavailable")}
	}
	h.auth.RequestAuthorizationFunc = unavailable
	h.auth.FetchStatusFunc = unavailable
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateValidationPending {
		t.Fatalf("expected state %s, got %s", document.StateValidationPending, res.State)
	}
	if res.Stage != document.StageAuthorize || !authority.IsTransient(res.Err) {
		t.Errorf("expected transient error at authorize, got %s: %v", res.Stage, res.Err)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 3 {
		t.Errorf("expected 3 transient records, got %d", len(errs))
	}

	// The authority recovers and the document is picked up again.
	h.auth.RequestAuthorizationFunc = nil
	h.auth.FetchStatusFunc = nil
	res, err := w.Process(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.State != document.StateNotified {
		t.Errorf("expected state %s after recovery, got %s", document.StateNotified, res.State)
	}
}

func TestAuthorize_CancelledKeepsValidationPending(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.auth.RequestAuthorizationFunc = func(context.Context, document.Environment, string) (authority.AuthorizationResult, error) {
		cancel()
		return authority.AuthorizationResult{}, &authority.TransientSubmissionError{Op: "authorize", Err: context.Canceled}
	}
	w := h.workflow()

	res, err := w.CreateSale(ctx, saleRequest(1))
	if err != nil {
		t.Fatalf("CreateSale() error = %v", err)
	}
	if res.State != document.StateValidationPending {
		t.Errorf("expected state %s, got %s", document.StateValidationPending, res.State)
	}
}

func TestValidate_TransientKeepsSigned(t *testing.T) {
	h := newHarness(t)
	h.auth.SubmitForValidationFunc = func(context.Context, document.Environment, []byte) (authority.ValidationResult, error) {
		return authority.ValidationResult{}, &authority.TransientSubmissionError{Op: "validate", Err: errors.New("connection reset by peer")}
	}
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateSigned {
		t.Fatalf("expected state %s, got %s", document.StateSigned, res.State)
	}
	if res.Stage != document.StageValidate {
		t.Errorf("expected stage validate, got %s", res.Stage)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 1 || errs[0].Stage != document.StageValidate || errs[0].Payload.Kind != "transient" {
		t.Fatalf("expected one transient validate record, got %+v", errs)
	}

	// A later run resumes from the stored signed document.
	h.auth.SubmitForValidationFunc = nil
	res, err := w.Process(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.State != document.StateNotified {
		t.Errorf("expected state %s, got %s (%v)", document.StateNotified, res.State, res.Err)
	}
}

func TestValidate_Rejected(t *testing.T) {
	h := newHarness(t)
	h.auth.SubmitForValidationFunc = rejectValidation
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageValidate {
		t.Fatalf("expected failed at validate, got %s/%s", res.State, res.FailedStage)
	}
	var rejected *authority.RejectedError
	if !errors.As(res.Err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", res.Err)
	}
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "35" {
		t.Errorf("unexpected reasons %v", res.Reasons)
	}
	if res.Document.FailureReason == "" {
		t.Error("expected failure reason to be set")
	}
	if calls := h.auth.Calls(); !reflect.DeepEqual(calls, []string{"validate"}) {
		t.Errorf("expected only validation, got %v", calls)
	}
}

func TestSign_MissingCertificateThenRetry(t *testing.T) {
	h := newHarness(t)
	h.company.CertificateKey = "certificates/missing.p12"
	h.store.UpdateCompany(&h.company)
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageSign {
		t.Fatalf("expected failed at sign, got %s/%s", res.State, res.FailedStage)
	}
	var creds *signing.InvalidCredentialsError
	if !errors.As(res.Err, &creds) {
		t.Fatalf("expected InvalidCredentialsError, got %v", res.Err)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 1 || errs[0].Payload.Kind != "invalid_credentials" {
		t.Fatalf("expected one invalid_credentials record, got %+v", errs)
	}

	// The operator uploads the certificate under the configured key.
	if err := h.blobs.Put(context.Background(), "certificates/missing.p12", "application/x-pkcs12", []byte("p12")); err != nil {
		t.Fatalf("put certificate: %v", err)
	}
	res, err := w.Retry(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if res.State != document.StateNotified {
		t.Fatalf("expected state %s after retry, got %s (%v)", document.StateNotified, res.State, res.Err)
	}
	if res.Document.FailedStage != "" || res.Document.FailureReason != "" {
		t.Errorf("expected failure fields cleared, got %s/%q", res.Document.FailedStage, res.Document.FailureReason)
	}
}

func TestSign_ExpiredCertificateFails(t *testing.T) {
	h := newHarness(t)
	h.signer.SignFunc = func(context.Context, []byte, []byte, string) ([]byte, error) {
		return nil, &signing.CertificateExpiredError{}
	}
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageSign {
		t.Fatalf("expected failed at sign, got %s/%s", res.State, res.FailedStage)
	}
}

func TestBuild_MalformedCompanyFails(t *testing.T) {
	h := newHarness(t)
	h.company.TaxID = "179001"
	h.store.UpdateCompany(&h.company)
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageBuild {
		t.Fatalf("expected failed at build, got %s/%s", res.State, res.FailedStage)
	}
	var malformed *document.MalformedDocumentError
	if !errors.As(res.Err, &malformed) {
		t.Fatalf("expected MalformedDocumentError, got %v", res.Err)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 1 || errs[0].Reference != res.Document.FullNumber {
		t.Fatalf("expected one record referencing the full number, got %+v", errs)
	}
	if len(h.auth.Calls()) != 0 {
		t.Errorf("expected no authority calls, got %v", h.auth.Calls())
	}
}

func TestRetry_RequiresFailedDocument(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()
	res := h.createSale(t, w, 1)

	_, err := w.Retry(context.Background(), testTenant, res.Document.ID)

	var invalid *document.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestNotify_FailureKeepsAuthorized(t *testing.T) {
	h := newHarness(t)
	h.notifier.SendFunc = func(context.Context, notification.Message) error {
		return errors.New("smtp: 421 service not available")
	}
	w := h.workflow()

	res := h.createSale(t, w, 1)

	if res.State != document.StateAuthorized {
		t.Fatalf("expected state %s, got %s", document.StateAuthorized, res.State)
	}
	if res.Stage != document.StageNotify || res.Err == nil {
		t.Errorf("expected notify error, got %s: %v", res.Stage, res.Err)
	}
	errs, _ := w.Errors(context.Background(), testTenant, res.Document.ID)
	if len(errs) != 1 || errs[0].Stage != document.StageNotify {
		t.Fatalf("expected one notify record, got %+v", errs)
	}

	h.notifier.SendFunc = nil
	res, err := w.Notify(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if res.State != document.StateNotified {
		t.Errorf("expected state %s, got %s (%v)", document.StateNotified, res.State, res.Err)
	}
	if len(h.notifier.Sent()) != 1 {
		t.Errorf("expected 1 message, got %d", len(h.notifier.Sent()))
	}
}

func TestNotify_ResendsNotifiedDocument(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()
	res := h.createSale(t, w, 1)

	res, err := w.Notify(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if res.State != document.StateNotified {
		t.Errorf("expected state %s, got %s", document.StateNotified, res.State)
	}
	if len(h.notifier.Sent()) != 2 {
		t.Errorf("expected 2 messages, got %d", len(h.notifier.Sent()))
	}
}

func TestNotify_SkipsBuyerWithoutEmail(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()
	req := saleRequest(1)
	req.Client.Email = ""

	res, err := w.CreateSale(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateSale() error = %v", err)
	}
	if res.State != document.StateNotified {
		t.Errorf("expected state %s, got %s", document.StateNotified, res.State)
	}
	if len(h.notifier.Sent()) != 0 {
		t.Errorf("expected no messages, got %d", len(h.notifier.Sent()))
	}
}

func TestNotify_RejectsUnauthorizedDocument(t *testing.T) {
	h := newHarness(t)
	h.auth.SubmitForValidationFunc = rejectValidation
	w := h.workflow()
	res := h.createSale(t, w, 1)

	_, err := w.Notify(context.Background(), testTenant, res.Document.ID)

	var invalid *document.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestVoid_RestoresLots(t *testing.T) {
	h := newHarness(t)
	h.auth.SubmitForValidationFunc = rejectValidation
	w := h.workflow()
	res := h.createSale(t, w, 2)

	if a, b := h.remaining(t); a != 0 || b != 4 {
		t.Fatalf("expected lots (0, 4) after the sale, got (%d, %d)", a, b)
	}

	voided, err := w.Void(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	if voided.State != document.StateVoided {
		t.Errorf("expected state %s, got %s", document.StateVoided, voided.State)
	}
	if a, b := h.remaining(t); a != 1 || b != 5 {
		t.Errorf("expected lots restored to (1, 5), got (%d, %d)", a, b)
	}
	for _, r := range h.store.Reservations(testTenant, res.Document.ID) {
		if r.ReversedAt == nil {
			t.Errorf("reservation %s was not reversed", r.ID)
		}
	}

	_, err = w.Void(context.Background(), testTenant, res.Document.ID)
	var invalid *document.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidTransitionError on second void, got %v", err)
	}
}

func TestVoid_AuthorizedDocumentIsRefused(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()
	res := h.createSale(t, w, 1)

	_, err := w.Void(context.Background(), testTenant, res.Document.ID)

	var invalid *document.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if a, b := h.remaining(t); a != 0 || b != 5 {
		t.Errorf("expected lots untouched at (0, 5), got (%d, %d)", a, b)
	}
}

func TestProcess_UnknownDocument(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()

	_, err := w.Process(context.Background(), testTenant, "missing")

	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcess_LeavesTerminalDocumentsAlone(t *testing.T) {
	h := newHarness(t)
	w := h.workflow()
	res := h.createSale(t, w, 1)
	calls := len(h.auth.Calls())

	again, err := w.Process(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if again.State != document.StateNotified || again.Err != nil {
		t.Errorf("expected untouched notified document, got %s (%v)", again.State, again.Err)
	}
	if len(h.auth.Calls()) != calls {
		t.Errorf("expected no new authority calls, got %v", h.auth.Calls())
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"malformed", &document.MalformedDocumentError{Field: "client.name"}, "malformed_document"},
		{"credentials", &signing.InvalidCredentialsError{Err: errors.New("bad passphrase")}, "invalid_credentials"},
		{"expired", &signing.CertificateExpiredError{}, "certificate_expired"},
		{"rejected", &authority.RejectedError{Stage: document.StageValidate}, "rejected"},
		{"timeout", &authority.TimeoutExceededError{Attempts: 3}, "timeout"},
		{"pending", errStillPending, "pending"},
		{"transient", &authority.TransientSubmissionError{Op: "validate", Err: errors.New("eof")}, "transient"},
		{"deadline", context.DeadlineExceeded, "cancelled"},
		{"other", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorKind(tt.err); got != tt.want {
				t.Errorf("errorKind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResume_NotifiesAuthorizedDocuments(t *testing.T) {
	h := newHarness(t)
	h.cfg.NotifyOnAuthorize = false
	w := h.workflow()
	res := h.createSale(t, w, 1)

	again, err := w.Process(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if again.State != document.StateAuthorized {
		t.Fatalf("expected Process to leave the document %s, got %s", document.StateAuthorized, again.State)
	}

	resumed, err := w.Resume(context.Background(), testTenant, res.Document.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.State != document.StateNotified {
		t.Errorf("expected state %s, got %s", document.StateNotified, resumed.State)
	}
	if len(h.notifier.Sent()) != 1 {
		t.Errorf("expected 1 message, got %d", len(h.notifier.Sent()))
	}
}
