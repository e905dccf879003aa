package postgres

import (
	"context"

	documentpg "3tcapital/ms_emision_electronica/internal/adapters/document/postgres"
	inventorypg "3tcapital/ms_emision_electronica/internal/adapters/inventory/postgres"
	sequencepg "3tcapital/ms_emision_electronica/internal/adapters/sequence/postgres"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/sequence"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner implements document.TxRunner on a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn with repositories bound to one transaction.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx document.Tx) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txRepos{
			documents: documentpg.NewRepository(tx),
			sequences: sequencepg.NewAllocator(tx),
			inventory: inventorypg.NewRepository(tx),
		})
	})
}

type txRepos struct {
	documents *documentpg.Repository
	sequences *sequencepg.Allocator
	inventory *inventorypg.Repository
}

func (t *txRepos) Documents() document.Repository { return t.documents }

func (t *txRepos) Sequences() sequence.Allocator { return t.sequences }

func (t *txRepos) Inventory() inventory.Repository { return t.inventory }
