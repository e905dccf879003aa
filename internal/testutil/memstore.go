package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/sequence"
	"3tcapital/ms_emision_electronica/internal/core/submission"
	"3tcapital/ms_emision_electronica/internal/core/tenant"
)

// MemStore is an in-memory implementation of the persistence ports. Transactions are
// serialized and roll back by restoring a snapshot taken when they started.
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	docs         map[string]*document.Document
	counters     map[string]int64
	products     map[string]inventory.Product
	lots         map[string]inventory.Lot
	reservations []inventory.Reservation
	companies    map[string]*document.Company
	submissions  []submission.Error
	tenants      []tenant.Tenant

	// trace records the row locks and counts taken, in call order. It survives rollbacks.
	trace []string

	now func() time.Time
}

var (
	_ document.TxRunner          = (*MemStore)(nil)
	_ document.Repository        = (*MemStore)(nil)
	_ document.CompanyRepository = (*MemStore)(nil)
	_ sequence.Allocator         = (*MemStore)(nil)
	_ inventory.Repository       = (*MemStore)(nil)
	_ submission.Repository      = (*MemStore)(nil)
	_ tenant.Registry            = (*MemStore)(nil)
)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:      make(map[string]*document.Document),
		counters:  make(map[string]int64),
		products:  make(map[string]inventory.Product),
		lots:      make(map[string]inventory.Lot),
		companies: make(map[string]*document.Company),
		now:       time.Now,
	}
}

// SetClock replaces the clock used for updated_at stamps.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func memKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// AddTenant registers an active tenant with its company.
func (s *MemStore) AddTenant(t tenant.Tenant, company *document.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, t)
	if company != nil {
		c := *company
		c.TenantID = t.ID
		s.companies[t.ID] = &c
	}
}

// AddProduct registers a catalog product.
func (s *MemStore) AddProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[memKey(p.TenantID, p.ID)] = p
}

// AddLot registers an inventory lot.
func (s *MemStore) AddLot(l inventory.Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[memKey(l.TenantID, l.ID)] = l
}

// Lot returns the current state of a lot.
func (s *MemStore) Lot(tenantID, lotID string) inventory.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lots[memKey(tenantID, lotID)]
}

// Reservations returns every reservation of a document, reversed or not.
func (s *MemStore) Reservations(tenantID, documentID string) []inventory.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out
}

// Documents returns every stored document of a tenant ordered by number.
func (s *MemStore) Documents(tenantID string) []*document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*document.Document
	for _, d := range s.docs {
		if d.TenantID == tenantID {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// Trace returns the lock and count calls seen so far, such as "allocate:001-002" or
// "lock-lots:p-1".
func (s *MemStore) Trace() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.trace...)
}

// ResetTrace clears the recorded calls.
func (s *MemStore) ResetTrace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = nil
}

// Put stores doc as is, bypassing the state guard.
func (s *MemStore) Put(doc *document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[memKey(doc.TenantID, doc.ID)] = cloneDocument(doc)
}

// InTx implements document.TxRunner.
func (s *MemStore) InTx(ctx context.Context, fn func(tx document.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	err := fn(memTx{s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memTx struct{ s *MemStore }

func (t memTx) Documents() document.Repository  { return t.s }
func (t memTx) Sequences() sequence.Allocator   { return t.s }
func (t memTx) Inventory() inventory.Repository { return t.s }

type memSnapshot struct {
	docs         map[string]*document.Document
	counters     map[string]int64
	lots         map[string]inventory.Lot
	reservations []inventory.Reservation
}

func (s *MemStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		docs:         make(map[string]*document.Document, len(s.docs)),
		counters:     make(map[string]int64, len(s.counters)),
		lots:         make(map[string]inventory.Lot, len(s.lots)),
		reservations: append([]inventory.Reservation(nil), s.reservations...),
	}
	for k, v := range s.docs {
		snap.docs[k] = cloneDocument(v)
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	for k, v := range s.lots {
		snap.lots[k] = v
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = snap.docs
	s.counters = snap.counters
	s.lots = snap.lots
	s.reservations = snap.reservations
}

// Insert implements document.Repository.
func (s *MemStore) Insert(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.docs[memKey(doc.TenantID, doc.ID)] = cloneDocument(doc)
	return nil
}

// Get implements document.Repository.
func (s *MemStore) Get(ctx context.Context, tenantID, id string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[memKey(tenantID, id)]
	if !ok {
		return nil, document.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// GetForUpdate implements document.Repository. Transactions are already serialized.
func (s *MemStore) GetForUpdate(ctx context.Context, tenantID, id string) (*document.Document, error) {
	return s.Get(ctx, tenantID, id)
}

// UpdateState implements document.Repository.
func (s *MemStore) UpdateState(ctx context.Context, doc *document.Document, from document.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.docs[memKey(doc.TenantID, doc.ID)]
	if !ok || stored.State != from {
		return document.ErrConcurrentUpdate
	}
	stored.State = doc.State
	stored.FailedStage = doc.FailedStage
	stored.FailureReason = doc.FailureReason
	stored.AccessCode = doc.AccessCode
	stored.AuthorizedAt = cloneTime(doc.AuthorizedAt)
	stored.SignedXMLKey = doc.SignedXMLKey
	stored.PDFKey = doc.PDFKey
	stored.NotifiedAt = cloneTime(doc.NotifiedAt)
	stored.UpdatedAt = s.now()
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

// SetCreditedBy implements document.Repository.
func (s *MemStore) SetCreditedBy(ctx context.Context, tenantID, saleID, creditNoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.docs[memKey(tenantID, saleID)]
	if !ok {
		return document.ErrNotFound
	}
	stored.CreditedBy = creditNoteID
	stored.UpdatedAt = s.now()
	return nil
}

// ListByStates implements document.Repository.
func (s *MemStore) ListByStates(ctx context.Context, tenantID string, states []document.State, olderThan time.Time, limit int) ([]*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[document.State]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}

	var out []*document.Document
	for _, d := range s.docs {
		if d.TenantID == tenantID && wanted[d.State] && d.UpdatedAt.Before(olderThan) {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountIssued implements document.Repository.
func (s *MemStore) CountIssued(ctx context.Context, tenantID string, kind document.Kind, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, "count:"+string(kind))

	n := 0
	for _, d := range s.docs {
		if d.TenantID != tenantID || d.Kind != kind || d.State == document.StateVoided {
			continue
		}
		if !d.IssueDate.Before(from) && d.IssueDate.Before(to) {
			n++
		}
	}
	return n, nil
}

// GetCompany implements document.CompanyRepository.
func (s *MemStore) GetCompany(ctx context.Context, tenantID string) (*document.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.companies[tenantID]
	if !ok {
		return nil, document.ErrNotFound
	}
	out := *c
	return &out, nil
}

// UpdateCompany replaces the stored company of a tenant.
func (s *MemStore) UpdateCompany(c *document.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *c
	s.companies[c.TenantID] = &out
}

// Allocate implements sequence.Allocator.
func (s *MemStore) Allocate(ctx context.Context, tenantID, series string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, "allocate:"+series)

	k := memKey(tenantID, series)
	s.counters[k]++
	return s.counters[k], nil
}

// Products implements inventory.Repository.
func (s *MemStore) Products(ctx context.Context, tenantID string, ids []string) (map[string]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[memKey(tenantID, id)]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// LockLots implements inventory.Repository.
func (s *MemStore) LockLots(ctx context.Context, tenantID, productID string) ([]inventory.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, "lock-lots:"+productID)

	var out []inventory.Lot
	for _, l := range s.lots {
		if l.TenantID == tenantID && l.ProductID == productID && l.Active && l.Remaining > 0 {
			out = append(out, l)
		}
	}
	inventory.SortFIFO(out)
	return out, nil
}

// AdjustLot implements inventory.Repository.
func (s *MemStore) AdjustLot(ctx context.Context, tenantID, lotID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(tenantID, lotID)
	l, ok := s.lots[k]
	if !ok {
		return &inventory.InsufficientStockError{Requested: -delta}
	}
	if l.Remaining+delta < 0 {
		return &inventory.InsufficientStockError{ProductID: l.ProductID, Requested: -delta, Available: l.Remaining}
	}
	l.Remaining += delta
	s.lots[k] = l
	return nil
}

// InsertReservation implements inventory.Repository.
func (s *MemStore) InsertReservation(ctx context.Context, r inventory.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations = append(s.reservations, r)
	return nil
}

// ActiveReservations implements inventory.Repository.
func (s *MemStore) ActiveReservations(ctx context.Context, tenantID, documentID string) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []inventory.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.DocumentID == documentID && r.ReversedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkReversed implements inventory.Repository.
func (s *MemStore) MarkReversed(ctx context.Context, tenantID, documentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reservations {
		r := &s.reservations[i]
		if r.TenantID == tenantID && r.DocumentID == documentID && r.ReversedAt == nil {
			stamp := at
			r.ReversedAt = &stamp
		}
	}
	return nil
}

// Record implements submission.Repository.
func (s *MemStore) Record(ctx context.Context, e submission.Error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, e)
	return nil
}

// ListByDocument implements submission.Repository.
func (s *MemStore) ListByDocument(ctx context.Context, tenantID, documentID string) ([]submission.Error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []submission.Error
	for _, e := range s.submissions {
		if e.TenantID == tenantID && e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListActive implements tenant.Registry.
func (s *MemStore) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []tenant.Tenant
	for _, t := range s.tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func cloneDocument(d *document.Document) *document.Document {
	out := *d
	out.Lines = append([]document.Line(nil), d.Lines...)
	out.AdditionalInfo = append([]document.AdditionalInfo(nil), d.AdditionalInfo...)
	out.AuthorizedAt = cloneTime(d.AuthorizedAt)
	out.NotifiedAt = cloneTime(d.NotifiedAt)
	out.Payment.DueDate = cloneTime(d.Payment.DueDate)
	if d.Reference != nil {
		ref := *d.Reference
		out.Reference = &ref
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
