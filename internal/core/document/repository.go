package document

import (
	"context"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/sequence"
)

// Repository persists documents and their lines.
type Repository interface {
	// Insert stores a new document with its lines.
	Insert(ctx context.Context, doc *Document) error
	// Get loads a document with its lines. Returns ErrNotFound when missing.
	Get(ctx context.Context, tenantID, id string) (*Document, error)
	// GetForUpdate loads a document and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, tenantID, id string) (*Document, error)
	// UpdateState persists state, failure and artifact fields only if the stored state
	// still equals from. Returns ErrConcurrentUpdate otherwise.
	UpdateState(ctx context.Context, doc *Document, from State) error
	// SetCreditedBy links a sale to the credit note that annulled it (empty clears it).
	SetCreditedBy(ctx context.Context, tenantID, saleID, creditNoteID string) error
	// ListByStates returns documents in any of states last updated before olderThan,
	// oldest first.
	ListByStates(ctx context.Context, tenantID string, states []State, olderThan time.Time, limit int) ([]*Document, error)
	// CountIssued counts non-voided documents of kind issued in [from, to).
	CountIssued(ctx context.Context, tenantID string, kind Kind, from, to time.Time) (int, error)
}

// CompanyRepository loads the issuing company of a tenant.
type CompanyRepository interface {
	GetCompany(ctx context.Context, tenantID string) (*Company, error)
}

// Tx groups the repositories bound to a single database transaction.
type Tx interface {
	Documents() Repository
	Sequences() sequence.Allocator
	Inventory() inventory.Repository
}

// TxRunner runs fn inside one transaction, committing when fn returns nil and rolling
// back otherwise (including on context cancellation).
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Builder renders the canonical tax document of a snapshot.
type Builder interface {
	// AccessCode derives the 49-digit access code of the snapshot's document.
	AccessCode(s Snapshot) (string, error)
	// Build renders the unsigned XML. Identical snapshots yield identical bytes.
	Build(s Snapshot) ([]byte, error)
}
