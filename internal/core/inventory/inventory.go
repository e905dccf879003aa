package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Lot is an inventory batch with its own expiration date and remaining balance.
type Lot struct {
	ID         string
	TenantID   string
	ProductID  string
	ReceivedAt time.Time
	ExpiresAt  time.Time
	Quantity   int64
	Remaining  int64
	Active     bool
}

// Reservation records how much of a lot a document line moved.
// Positive quantities were drawn from the lot (sale), negative ones were returned to it
// (credit note). Reversing a reservation adds Quantity back to the lot.
type Reservation struct {
	ID         string
	TenantID   string
	DocumentID string
	LineID     string
	LotID      string
	Quantity   int64
	ReversedAt *time.Time
}

// Draw is one slice of a requested quantity taken from a lot.
type Draw struct {
	LotID    string
	Quantity int64
}

// InsufficientStockError is returned when lots cannot cover a quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// SortFIFO orders lots oldest-expiration first, then oldest-received first.
func SortFIFO(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].ExpiresAt.Equal(lots[j].ExpiresAt) {
			return lots[i].ExpiresAt.Before(lots[j].ExpiresAt)
		}
		return lots[i].ReceivedAt.Before(lots[j].ReceivedAt)
	})
}

// Allocate splits quantity across lots in FIFO order. Inactive and empty lots are skipped.
// It does not mutate lots.
func Allocate(productID string, lots []Lot, quantity int64) ([]Draw, error) {
	if quantity <= 0 {
		return nil, nil
	}

	ordered := make([]Lot, 0, len(lots))
	var available int64
	for _, lot := range lots {
		if !lot.Active || lot.Remaining <= 0 {
			continue
		}
		ordered = append(ordered, lot)
		available += lot.Remaining
	}
	if available < quantity {
		return nil, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}
	SortFIFO(ordered)

	draws := make([]Draw, 0, 1)
	pending := quantity
	for _, lot := range ordered {
		if pending == 0 {
			break
		}
		take := lot.Remaining
		if take > pending {
			take = pending
		}
		draws = append(draws, Draw{LotID: lot.ID, Quantity: take})
		pending -= take
	}
	return draws, nil
}

// Product is the catalog row a sale line is built from.
type Product struct {
	ID          string
	TenantID    string
	Code        string
	Name        string
	Taxable     bool
	Inventoried bool
}

// Repository reads products and mutates lot balances. Lot-mutating methods must be called
// inside a transaction.
type Repository interface {
	// Products returns the catalog rows for ids, keyed by id.
	Products(ctx context.Context, tenantID string, ids []string) (map[string]Product, error)
	// LockLots returns the active lots with a positive balance for a product and locks them
	// until the transaction ends.
	LockLots(ctx context.Context, tenantID, productID string) ([]Lot, error)
	// AdjustLot adds delta to a lot balance. It fails with InsufficientStockError when the
	// balance would become negative.
	AdjustLot(ctx context.Context, tenantID, lotID string, delta int64) error
	// InsertReservation records a lot movement for a document line.
	InsertReservation(ctx context.Context, r Reservation) error
	// ActiveReservations returns the reservations of a document that were not reversed.
	ActiveReservations(ctx context.Context, tenantID, documentID string) ([]Reservation, error)
	// MarkReversed flags all active reservations of a document as reversed.
	MarkReversed(ctx context.Context, tenantID, documentID string, at time.Time) error
}
