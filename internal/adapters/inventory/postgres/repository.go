package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
)

// Repository implements inventory.Repository using PostgreSQL.
type Repository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Products returns the catalog rows for ids, keyed by id.
func (r *Repository) Products(ctx context.Context, tenantID string, ids []string) (map[string]inventory.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, code, name, taxable, inventoried
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]inventory.Product, len(ids))
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Taxable, &p.Inventoried); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// LockLots returns the usable lots of a product in FIFO order and locks them.
func (r *Repository) LockLots(ctx context.Context, tenantID, productID string) ([]inventory.Lot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, product_id, received_at, expires_at, quantity, remaining, active
		FROM inventory_lots
		WHERE tenant_id = $1 AND product_id = $2 AND active AND remaining > 0
		ORDER BY expires_at, received_at
		FOR UPDATE`,
		tenantID, productID,
	)
	if err != nil {
		return nil, fmt.Errorf("lock lots: %w", err)
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		var l inventory.Lot
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ProductID, &l.ReceivedAt, &l.ExpiresAt, &l.Quantity, &l.Remaining, &l.Active); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lots: %w", err)
	}
	return lots, nil
}

// AdjustLot adds delta to a lot balance, refusing to go below zero.
func (r *Repository) AdjustLot(ctx context.Context, tenantID, lotID string, delta int64) error {
	var remaining int64
	err := r.db.QueryRow(ctx, `
		UPDATE inventory_lots
		SET remaining = remaining + $3
		WHERE tenant_id = $1 AND id = $2 AND remaining + $3 >= 0
		RETURNING remaining`,
		tenantID, lotID, delta,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		var productID string
		var current int64
		lookupErr := r.db.QueryRow(ctx, `SELECT product_id, remaining FROM inventory_lots WHERE tenant_id = $1 AND id = $2`, tenantID, lotID).
			Scan(&productID, &current)
		if lookupErr != nil {
			return fmt.Errorf("adjust lot %s: %w", lotID, lookupErr)
		}
		return &inventory.InsufficientStockError{ProductID: productID, Requested: -delta, Available: current}
	}
	if err != nil {
		return fmt.Errorf("adjust lot %s: %w", lotID, err)
	}
	return nil
}

// InsertReservation records a lot movement for a document line.
func (r *Repository) InsertReservation(ctx context.Context, res inventory.Reservation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stock_reservations (id, tenant_id, document_id, line_id, lot_id, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, res.TenantID, res.DocumentID, res.LineID, res.LotID, res.Quantity,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// ActiveReservations returns the reservations of a document that were not reversed.
func (r *Repository) ActiveReservations(ctx context.Context, tenantID, documentID string) ([]inventory.Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, document_id, line_id, lot_id, quantity, reversed_at
		FROM stock_reservations
		WHERE tenant_id = $1 AND document_id = $2 AND reversed_at IS NULL
		ORDER BY created_at, id`,
		tenantID, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []inventory.Reservation
	for rows.Next() {
		var res inventory.Reservation
		if err := rows.Scan(&res.ID, &res.TenantID, &res.DocumentID, &res.LineID, &res.LotID, &res.Quantity, &res.ReversedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return reservations, nil
}

// MarkReversed flags all active reservations of a document as reversed.
func (r *Repository) MarkReversed(ctx context.Context, tenantID, documentID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE stock_reservations SET reversed_at = $3
		WHERE tenant_id = $1 AND document_id = $2 AND reversed_at IS NULL`,
		tenantID, documentID, at,
	)
	if err != nil {
		return fmt.Errorf("mark reservations reversed: %w", err)
	}
	return nil
}
