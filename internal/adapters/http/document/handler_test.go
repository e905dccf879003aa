package document

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"3tcapital/ms_emision_electronica/internal/adapters/document/sri"
	"3tcapital/ms_emision_electronica/internal/application/issuance"
	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/tenant"
	"3tcapital/ms_emision_electronica/internal/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

var handlerNow = time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store    *testutil.MemStore
	auth     *testutil.MockAuthority
	notifier *testutil.MockNotifier
	router   http.Handler
}

// newFixture seeds tenant "acme" with product p-1 (3 units in stock) and returns a router
// serving the document routes.
func newFixture(t *testing.T, planQuota int) *fixture {
	t.Helper()

	f := &fixture{
		store:    testutil.NewMemStore(),
		auth:     &testutil.MockAuthority{},
		notifier: &testutil.MockNotifier{},
	}
	blobs := testutil.NewMemBlobStore()

	company := document.Company{
		TenantID:              "acme",
		TaxID:                 "1790012345001",
		LegalName:             "ACME ECUADOR S.A.",
		MainAddress:           "Av. 6 de Diciembre N24-253",
		EstablishmentAddress:  "Av. 6 de Diciembre N24-253",
		EstablishmentCode:     "001",
		IssuingPointCode:      "001",
		Environment:           document.EnvironmentTest,
		EmissionType:          1,
		TaxRatePercent:        decimal.NewFromInt(15),
		PlanQuota:             planQuota,
		CertificateKey:        "certificates/acme.p12",
		CertificatePassphrase: "secret",
	}
	f.store.SetClock(func() time.Time { return handlerNow })
	f.store.AddTenant(tenant.Tenant{ID: "acme", Name: "Acme", Active: true}, &company)
	f.store.AddProduct(inventory.Product{ID: "p-1", TenantID: "acme", Code: "P001", Name: "Resma A4", Taxable: true, Inventoried: true})
	f.store.AddLot(inventory.Lot{
		ID: "lot-1", TenantID: "acme", ProductID: "p-1",
		ReceivedAt: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		Quantity:   3, Remaining: 3, Active: true,
	})
	if err := blobs.Put(context.Background(), company.CertificateKey, "application/x-pkcs12", []byte("p12")); err != nil {
		t.Fatalf("put certificate: %v", err)
	}

	workflow := issuance.New(issuance.Dependencies{
		Tx:          f.store,
		Documents:   f.store,
		Companies:   f.store,
		Submissions: f.store,
		Builder:     sri.NewBuilder(),
		Signer:      &testutil.MockSigner{},
		Authority:   f.auth,
		Blobs:       blobs,
		Renderer:    &testutil.MockRenderer{},
		Notifier:    f.notifier,
	}, issuance.Config{
		MaxAttempts:       2,
		RetryInterval:     time.Millisecond,
		NotifyOnAuthorize: true,
	}, testutil.NewNullLogger(), issuance.WithClock(func() time.Time { return handlerNow }))

	h := NewHandler(workflow, testutil.NewNullLogger())
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/sales", h.CreateSale)
		r.Post("/sales/{documentID}/credit-notes", h.CreateCreditNote)
		r.Get("/documents/{documentID}", h.GetDocument)
		r.Get("/documents/{documentID}/errors", h.ListErrors)
		r.Post("/documents/{documentID}/retry", h.Retry)
		r.Post("/documents/{documentID}/void", h.Void)
		r.Post("/documents/{documentID}/notify", h.Notify)
	})
	f.router = r
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(method, path, body)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func saleBody(quantity int64) map[string]any {
	return map[string]any{
		"client": map[string]any{
			"identificationType": "05",
			"identification":     "1712345678",
			"name":               "Maria Lopez",
			"email":              "maria@example.com",
		},
		"lines": []map[string]any{
			{"productId": "p-1", "quantity": quantity, "unitPrice": "4.50"},
		},
		"payment": map[string]any{"type": "cash", "methodCode": "01"},
	}
}

// createSale posts a sale and returns the decoded result.
func (f *fixture) createSale(t *testing.T, quantity int64) ResultResponse {
	t.Helper()
	w := f.do(http.MethodPost, "/api/v1/tenants/acme/sales", saleBody(quantity))
	var res ResultResponse
	testutil.DecodeResponse(t, w, http.StatusCreated, &res)
	return res
}

func errorMessages(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	body := testutil.ReadErrorResponse(t, w)
	raw, _ := body["errors"].([]any)
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		out = append(out, e.(string))
	}
	return out
}

func TestNewHandler(t *testing.T) {
	workflow := &issuance.Workflow{}
	logger := testutil.NewNullLogger()
	handler := NewHandler(workflow, logger)

	if handler.workflow != workflow {
		t.Error("expected handler to have the provided workflow")
	}
	if handler.log != logger {
		t.Error("expected handler to have the provided logger")
	}
}

func TestHandler_CreateSale(t *testing.T) {
	f := newFixture(t, 0)

	res := f.createSale(t, 2)

	if res.State != document.StateNotified || res.Status != document.StatusNotified {
		t.Errorf("expected notified, got state %s status %s", res.State, res.Status)
	}
	if res.Document == nil {
		t.Fatal("expected the document in the response")
	}
	if res.Document.FullNumber != "001-001-000000001" {
		t.Errorf("expected number 001-001-000000001, got %s", res.Document.FullNumber)
	}
	// 2 x 4.50 = 9.00 plus 15% tax
	if !res.Document.Total.Equal(decimal.RequireFromString("10.35")) {
		t.Errorf("expected total 10.35, got %s", res.Document.Total)
	}
	if len(res.Document.AccessCode) != 49 {
		t.Errorf("expected a 49 digit access code, got %q", res.Document.AccessCode)
	}
	if got := f.store.Lot("acme", "lot-1").Remaining; got != 1 {
		t.Errorf("expected 1 unit left, got %d", got)
	}
	if len(f.notifier.Sent()) != 1 {
		t.Errorf("expected 1 notification, got %d", len(f.notifier.Sent()))
	}
}

func TestHandler_CreateSale_Errors(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		planQuota      int
		before         func(t *testing.T, f *fixture)
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid json",
			body:           []byte(`{"client":`),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "El cuerpo de la petición no es válido",
		},
		{
			name: "unknown field",
			body: func() map[string]any {
				b := saleBody(1)
				b["discount"] = "10"
				return b
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "El cuerpo de la petición no es válido",
		},
		{
			name: "missing client name",
			body: func() map[string]any {
				b := saleBody(1)
				b["client"].(map[string]any)["name"] = ""
				return b
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "client.name: required",
		},
		{
			name: "no lines",
			body: func() map[string]any {
				b := saleBody(1)
				delete(b, "lines")
				return b
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "lines: required",
		},
		{
			name:           "zero quantity",
			body:           saleBody(0),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "lines[0].quantity: gt=0",
		},
		{
			name: "bad identification type",
			body: func() map[string]any {
				b := saleBody(1)
				b["client"].(map[string]any)["identificationType"] = "99"
				return b
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "client.identificationType: oneof=04 05 06 07 08",
		},
		{
			name: "bad issue date",
			body: func() map[string]any {
				b := saleBody(1)
				b["issueDate"] = "15/01/2025"
				return b
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "issueDate: datetime=2006-01-02",
		},
		{
			name: "negative price",
			body: func() map[string]any {
				b := saleBody(1)
				b["lines"].([]map[string]any)[0]["unitPrice"] = "-1"
				return b
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "malformed document: lines[1].unitPrice: cannot be negative",
		},
		{
			name:           "insufficient stock",
			body:           saleBody(5),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "insufficient stock for product p-1: requested 5, available 3",
		},
		{
			name:      "quota exceeded",
			body:      saleBody(1),
			planQuota: 1,
			before: func(t *testing.T, f *fixture) {
				f.createSale(t, 1)
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedError:  "monthly invoice quota exceeded: 1 of 1 issued",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.planQuota)
			if tt.before != nil {
				tt.before(t, f)
			}

			w := f.do(http.MethodPost, "/api/v1/tenants/acme/sales", tt.body)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			msgs := errorMessages(t, w)
			if len(msgs) == 0 || !strings.Contains(strings.Join(msgs, "|"), tt.expectedError) {
				t.Errorf("expected error %q, got %v", tt.expectedError, msgs)
			}
		})
	}
}

func TestHandler_CreateSale_UnknownTenant(t *testing.T) {
	f := newFixture(t, 0)

	w := f.do(http.MethodPost, "/api/v1/tenants/globex/sales", saleBody(1))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestHandler_CreateSale_RejectedStillCreated(t *testing.T) {
	f := newFixture(t, 0)
	f.auth.SubmitForValidationFunc = func(ctx context.Context, env document.Environment, signed []byte) (authority.ValidationResult, error) {
		return authority.ValidationResult{
			Reasons: []authority.Reason{{Code: "35", Message: "ARCHIVO NO CUMPLE ESTRUCTURA XML"}},
		}, nil
	}

	res := f.createSale(t, 1)

	if res.State != document.StateFailed || res.FailedStage != document.StageValidate {
		t.Errorf("expected failed at validate, got %s/%s", res.State, res.FailedStage)
	}
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "35" {
		t.Errorf("expected reason 35, got %+v", res.Reasons)
	}
	if res.Error == "" {
		t.Error("expected the stage error in the response")
	}

	w := f.do(http.MethodGet, "/api/v1/tenants/acme/documents/"+res.Document.ID+"/errors", nil)
	var errs ErrorsResponse
	testutil.DecodeResponse(t, w, http.StatusOK, &errs)
	if errs.Total != 1 || errs.Errors[0].Stage != document.StageValidate {
		t.Errorf("expected one validate error, got %+v", errs)
	}

	// The cause is corrected at the authority, then the operator retries.
	f.auth.SubmitForValidationFunc = nil
	w = f.do(http.MethodPost, "/api/v1/tenants/acme/documents/"+res.Document.ID+"/retry", nil)
	var retried ResultResponse
	testutil.DecodeResponse(t, w, http.StatusOK, &retried)
	if retried.State != document.StateNotified {
		t.Errorf("expected notified after retry, got %s", retried.State)
	}
}

func TestHandler_GetDocument(t *testing.T) {
	f := newFixture(t, 0)
	created := f.createSale(t, 1)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{name: "existing", path: "/api/v1/tenants/acme/documents/" + created.Document.ID, expectedStatus: http.StatusOK},
		{name: "unknown id", path: "/api/v1/tenants/acme/documents/missing", expectedStatus: http.StatusNotFound},
		{name: "other tenant", path: "/api/v1/tenants/globex/documents/" + created.Document.ID, expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, nil)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var resp DocumentResponse
			testutil.DecodeResponse(t, w, http.StatusOK, &resp)
			if resp.Document.ID != created.Document.ID || resp.Status != document.StatusNotified {
				t.Errorf("unexpected document %+v", resp)
			}
		})
	}
}

func TestHandler_Retry_NotFailed(t *testing.T) {
	f := newFixture(t, 0)
	created := f.createSale(t, 1)

	w := f.do(http.MethodPost, "/api/v1/tenants/acme/documents/"+created.Document.ID+"/retry", nil)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestHandler_CreateCreditNote(t *testing.T) {
	f := newFixture(t, 0)
	sale := f.createSale(t, 2)
	path := "/api/v1/tenants/acme/sales/" + sale.Document.ID + "/credit-notes"

	w := f.do(http.MethodPost, path, map[string]any{"motive": "Devolución del cliente"})
	var note ResultResponse
	testutil.DecodeResponse(t, w, http.StatusCreated, &note)
	if note.Document.Kind != document.KindCreditNote || note.Document.Reference == nil || note.Document.Reference.DocumentID != sale.Document.ID {
		t.Errorf("expected a credit note referencing the sale, got %+v", note.Document)
	}
	if got := f.store.Lot("acme", "lot-1").Remaining; got != 3 {
		t.Errorf("expected stock restored to 3, got %d", got)
	}

	w = f.do(http.MethodPost, path, map[string]any{"motive": "Otra vez"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409 for a second note, got %d", w.Code)
	}

	w = f.do(http.MethodPost, path, map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without motive, got %d", w.Code)
	}
	if msgs := errorMessages(t, w); len(msgs) != 1 || msgs[0] != "motive: required" {
		t.Errorf("expected motive error, got %v", msgs)
	}
}

func TestHandler_Void(t *testing.T) {
	f := newFixture(t, 0)
	f.auth.SubmitForValidationFunc = func(ctx context.Context, env document.Environment, signed []byte) (authority.ValidationResult, error) {
		return authority.ValidationResult{Reasons: []authority.Reason{{Code: "35"}}}, nil
	}
	failed := f.createSale(t, 2)

	f.auth.SubmitForValidationFunc = nil
	authorized := f.createSale(t, 1)

	w := f.do(http.MethodPost, "/api/v1/tenants/acme/documents/"+failed.Document.ID+"/void", nil)
	var resp DocumentResponse
	testutil.DecodeResponse(t, w, http.StatusOK, &resp)
	if resp.Status != document.StatusVoided {
		t.Errorf("expected voided, got %s", resp.Status)
	}
	if got := f.store.Lot("acme", "lot-1").Remaining; got != 2 {
		t.Errorf("expected the voided units back in stock, got %d", got)
	}

	w = f.do(http.MethodPost, "/api/v1/tenants/acme/documents/"+authorized.Document.ID+"/void", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409 for an authorized document, got %d", w.Code)
	}
}

func TestHandler_Notify(t *testing.T) {
	f := newFixture(t, 0)
	created := f.createSale(t, 1)

	w := f.do(http.MethodPost, "/api/v1/tenants/acme/documents/"+created.Document.ID+"/notify", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if len(f.notifier.Sent()) != 2 {
		t.Errorf("expected the notification to be resent, got %d messages", len(f.notifier.Sent()))
	}
}

func TestHandler_HandleError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "not found", err: document.ErrNotFound, expectedStatus: http.StatusNotFound},
		{name: "concurrent update", err: document.ErrConcurrentUpdate, expectedStatus: http.StatusConflict},
		{name: "not creditable", err: document.ErrNotCreditable, expectedStatus: http.StatusConflict},
		{name: "invalid transition", err: &document.InvalidTransitionError{From: document.StateAuthorized, To: document.StateVoided}, expectedStatus: http.StatusConflict},
		{name: "deadline", err: context.DeadlineExceeded, expectedStatus: http.StatusGatewayTimeout},
		{name: "unexpected", err: context.Canceled, expectedStatus: http.StatusInternalServerError},
	}

	h := NewHandler(nil, testutil.NewNullLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.handleError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON error body, got %q", ct)
			}
		})
	}
}
