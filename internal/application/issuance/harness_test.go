package issuance

import (
	"context"
	"testing"
	"time"

	"3tcapital/ms_emision_electronica/internal/adapters/document/sri"
	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/tenant"
	"3tcapital/ms_emision_electronica/internal/testutil"

	"github.com/shopspring/decimal"
)

const testTenant = "tenant-1"

var testNow = time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

type harness struct {
	store    *testutil.MemStore
	blobs    *testutil.MemBlobStore
	auth     *testutil.MockAuthority
	signer   *testutil.MockSigner
	renderer *testutil.MockRenderer
	notifier *testutil.MockNotifier
	company  document.Company
	cfg      Config
}

func testCompany() document.Company {
	return document.Company{
		TenantID:              testTenant,
		TaxID:                 "1790012345001",
		LegalName:             "COMERCIAL ANDINA S.A.",
		TradeName:             "Andina",
		MainAddress:           "Av. Amazonas N34-12",
		EstablishmentAddress:  "Av. Amazonas N34-12",
		EstablishmentCode:     "001",
		IssuingPointCode:      "002",
		Environment:           document.EnvironmentTest,
		EmissionType:          1,
		TaxRatePercent:        decimal.NewFromInt(15),
		Email:                 "facturacion@andina.ec",
		CertificateKey:        "certificates/tenant-1.p12",
		CertificatePassphrase: "secret",
	}
}

// newHarness seeds one tenant with an inventoried product spread over two lots
// (lot-a expires first with 1 unit, lot-b holds 5) and a service product without stock.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    testutil.NewMemStore(),
		blobs:    testutil.NewMemBlobStore(),
		auth:     &testutil.MockAuthority{},
		signer:   &testutil.MockSigner{},
		renderer: &testutil.MockRenderer{},
		notifier: &testutil.MockNotifier{},
		company:  testCompany(),
		cfg: Config{
			MaxAttempts:       3,
			RetryInterval:     time.Millisecond,
			NotifyOnAuthorize: true,
		},
	}
	h.store.SetClock(func() time.Time { return testNow })
	h.store.AddTenant(tenant.Tenant{ID: testTenant, Name: "Andina", Active: true}, &h.company)
	h.store.AddProduct(inventory.Product{ID: "p-1", TenantID: testTenant, Code: "P001", Name: "Cuaderno", Taxable: true, Inventoried: true})
	h.store.AddProduct(inventory.Product{ID: "svc-1", TenantID: testTenant, Code: "S001", Name: "Soporte", Taxable: true})
	h.store.AddLot(inventory.Lot{
		ID: "lot-a", TenantID: testTenant, ProductID: "p-1",
		ReceivedAt: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Quantity:   1, Remaining: 1, Active: true,
	})
	h.store.AddLot(inventory.Lot{
		ID: "lot-b", TenantID: testTenant, ProductID: "p-1",
		ReceivedAt: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Quantity:   5, Remaining: 5, Active: true,
	})
	if err := h.blobs.Put(context.Background(), h.company.CertificateKey, "application/x-pkcs12", []byte("p12")); err != nil {
		t.Fatalf("put certificate: %v", err)
	}
	return h
}

func (h *harness) workflow() *Workflow {
	return New(Dependencies{
		Tx:          h.store,
		Documents:   h.store,
		Companies:   h.store,
		Submissions: h.store,
		Builder:     sri.NewBuilder(),
		Signer:      h.signer,
		Authority:   h.auth,
		Blobs:       h.blobs,
		Renderer:    h.renderer,
		Notifier:    h.notifier,
	}, h.cfg, testutil.NewNullLogger(), WithClock(func() time.Time { return testNow }))
}

func (h *harness) remaining(t *testing.T) (int64, int64) {
	t.Helper()
	return h.store.Lot(testTenant, "lot-a").Remaining, h.store.Lot(testTenant, "lot-b").Remaining
}

func saleRequest(quantity int64) SaleRequest {
	return SaleRequest{
		TenantID: testTenant,
		Client: document.Client{
			IdentificationType: "05",
			Identification:     "1712345678",
			Name:               "Juan Perez",
			Email:              "juan@example.com",
		},
		Lines: []LineRequest{{
			ProductID: "p-1",
			Quantity:  quantity,
			UnitPrice: decimal.RequireFromString("10.00"),
		}},
	}
}

func rejectValidation(ctx context.Context, env document.Environment, signed []byte) (authority.ValidationResult, error) {
	return authority.ValidationResult{
		Accepted: false,
		Reasons:  []authority.Reason{{Code: "35", Message: "ARCHIVO NO CUMPLE ESTRUCTURA XML"}},
	}, nil
}

func pending(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
	return authority.AuthorizationResult{Status: authority.StatusPending, AccessCode: accessCode}, nil
}

// createSale creates a sale and fails the test on a non-stage error.
func (h *harness) createSale(t *testing.T, w *Workflow, quantity int64) *Result {
	t.Helper()
	res, err := w.CreateSale(context.Background(), saleRequest(quantity))
	if err != nil {
		t.Fatalf("CreateSale() error = %v", err)
	}
	return res
}
