package postgres

import (
	"context"
	"fmt"

	"3tcapital/ms_emision_electronica/internal/infrastructure/database"
)

// Allocator implements sequence.Allocator on a counter row per (tenant, series).
// The UPDATE takes a row lock held until the surrounding transaction ends, so concurrent
// allocations for the same series serialize and a rollback gives the number back.
type Allocator struct {
	db database.DBTX
}

func NewAllocator(db database.DBTX) *Allocator {
	return &Allocator{db: db}
}

// Allocate returns the next number of the series, starting at 1.
func (a *Allocator) Allocate(ctx context.Context, tenantID, series string) (int64, error) {
	_, err := a.db.Exec(ctx, `
		INSERT INTO document_sequences (tenant_id, series, last_number)
		VALUES ($1, $2, 0)
		ON CONFLICT (tenant_id, series) DO NOTHING`,
		tenantID, series,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure sequence %s: %w", series, err)
	}

	var next int64
	err = a.db.QueryRow(ctx, `
		UPDATE document_sequences
		SET last_number = last_number + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND series = $2
		RETURNING last_number`,
		tenantID, series,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence %s: %w", series, err)
	}
	return next, nil
}
