package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/submission"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"
)

// Repository implements submission.Repository using PostgreSQL. Rows are never updated.
type Repository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Record appends a submission error.
func (r *Repository) Record(ctx context.Context, e submission.Error) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal submission payload: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO submission_errors (id, tenant_id, document_id, stage, environment, reference, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TenantID, e.DocumentID, e.Stage, int(e.Environment), e.Reference, payload, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission error: %w", err)
	}
	return nil
}

// ListByDocument returns the errors of a document, oldest first.
func (r *Repository) ListByDocument(ctx context.Context, tenantID, documentID string) ([]submission.Error, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, document_id, stage, environment, reference, payload, occurred_at
		FROM submission_errors
		WHERE tenant_id = $1 AND document_id = $2
		ORDER BY occurred_at, id`,
		tenantID, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query submission errors: %w", err)
	}
	defer rows.Close()

	var errs []submission.Error
	for rows.Next() {
		var (
			e           submission.Error
			environment int
			payload     []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.DocumentID, &e.Stage, &environment, &e.Reference, &payload, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan submission error: %w", err)
		}
		e.Environment = document.Environment(environment)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal submission payload: %w", err)
		}
		errs = append(errs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission errors: %w", err)
	}
	return errs, nil
}
