package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"3tcapital/ms_emision_electronica/internal/infrastructure/database"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewTestPool connects to TEST_DATABASE_URL and applies migrations. The test is skipped in
// short mode or when the variable is not set.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.RunMigrations(ctx, pool, NewNullLogger()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return pool
}

// SeedTenant inserts a tenant with a company profile and returns its id.
func SeedTenant(t *testing.T, pool *pgxpool.Pool, tenantID string) string {
	t.Helper()

	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, tenantID)
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO companies (tenant_id, tax_id, legal_name, main_address, establishment_code, issuing_point_code, plan_quota)
		VALUES ($1, '1790012345001', 'Farmacia de Prueba S.A.', 'Av. Amazonas N1-23', '001', '001', 100)
		ON CONFLICT (tenant_id) DO NOTHING`, tenantID)
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return tenantID
}
