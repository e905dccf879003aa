package postgres

import (
	"context"
	"fmt"

	"3tcapital/ms_emision_electronica/internal/core/tenant"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"
)

// Registry implements tenant.Registry using PostgreSQL.
type Registry struct {
	db database.DBTX
}

func NewRegistry(db database.DBTX) *Registry {
	return &Registry{db: db}
}

// ListActive returns active tenants ordered by id.
func (r *Registry) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, active FROM tenants WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Active); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}
