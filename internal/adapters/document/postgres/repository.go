package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

const documentColumns = `
	id, tenant_id, kind, series, number, full_number, issue_date, environment,
	client, lines, payment, additional_info,
	tax_rate, subtotal_exempt, subtotal_taxable, discount_total, tax_total, total,
	state, failed_stage, failure_reason, access_code, authorized_at, signed_xml_key, pdf_key,
	notified_at, reference, motive, credited_by, created_at, updated_at`

// Repository implements document.Repository using PostgreSQL. Lines, client, payment and
// reference are stored as JSONB columns of the document row.
type Repository struct {
	db  database.DBTX
	now func() time.Time
}

// NewRepository creates a new PostgreSQL document repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Insert stores a new document with its lines.
func (r *Repository) Insert(ctx context.Context, doc *document.Document) error {
	client, err := json.Marshal(doc.Client)
	if err != nil {
		return fmt.Errorf("marshal client: %w", err)
	}
	lines, err := json.Marshal(doc.Lines)
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}
	payment, err := json.Marshal(doc.Payment)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	additional, err := marshalOptional(doc.AdditionalInfo, len(doc.AdditionalInfo) > 0)
	if err != nil {
		return fmt.Errorf("marshal additional info: %w", err)
	}
	reference, err := marshalOptional(doc.Reference, doc.Reference != nil)
	if err != nil {
		return fmt.Errorf("marshal reference: %w", err)
	}

	now := r.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = r.db.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		        $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		doc.ID, doc.TenantID, doc.Kind, doc.Series, doc.Number, doc.FullNumber, doc.IssueDate, int(doc.Environment),
		client, lines, payment, additional,
		doc.TaxRate, doc.SubtotalExempt, doc.SubtotalTaxable, doc.DiscountTotal, doc.TaxTotal, doc.Total,
		doc.State, doc.FailedStage, doc.FailureReason, doc.AccessCode, doc.AuthorizedAt, doc.SignedXMLKey, doc.PDFKey,
		doc.NotifiedAt, reference, doc.Motive, doc.CreditedBy, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert document %s number %d: %w", doc.Series, doc.Number, err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get loads a document with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*document.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanDocument(row)
}

// GetForUpdate loads a document and locks its row until the transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, tenantID, id string) (*document.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
	return scanDocument(row)
}

// UpdateState persists workflow fields when the stored state still equals from.
func (r *Repository) UpdateState(ctx context.Context, doc *document.Document, from document.State) error {
	now := r.now()
	tag, err := r.db.Exec(ctx, `
		UPDATE documents
		SET state = $3, failed_stage = $4, failure_reason = $5, access_code = $6, authorized_at = $7,
		    signed_xml_key = $8, pdf_key = $9, notified_at = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2 AND state = $12`,
		doc.TenantID, doc.ID,
		doc.State, doc.FailedStage, doc.FailureReason, doc.AccessCode, doc.AuthorizedAt,
		doc.SignedXMLKey, doc.PDFKey, doc.NotifiedAt, now,
		from,
	)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.ErrConcurrentUpdate
	}
	doc.UpdatedAt = now
	return nil
}

// SetCreditedBy links a sale to the credit note that annulled it.
func (r *Repository) SetCreditedBy(ctx context.Context, tenantID, saleID, creditNoteID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET credited_by = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, saleID, creditNoteID, r.now(),
	)
	if err != nil {
		return fmt.Errorf("set credited by: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

// ListByStates returns documents in any of states last updated before olderThan.
func (r *Repository) ListByStates(ctx context.Context, tenantID string, states []document.State, olderThan time.Time, limit int) ([]*document.Document, error) {
	names := lo.Map(states, func(s document.State, _ int) string { return string(s) })

	rows, err := r.db.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE tenant_id = $1 AND state = ANY($2) AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4`,
		tenantID, names, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents by state: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return docs, nil
}

// CountIssued counts non-voided documents of kind issued in [from, to).
func (r *Repository) CountIssued(ctx context.Context, tenantID string, kind document.Kind, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE tenant_id = $1 AND kind = $2 AND issue_date >= $3 AND issue_date < $4 AND state <> $5`,
		tenantID, kind, from, to, document.StateVoided,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issued documents: %w", err)
	}
	return count, nil
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var (
		doc                    document.Document
		environment            int
		client, lines, payment []byte
		additional, reference  []byte
	)

	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Kind, &doc.Series, &doc.Number, &doc.FullNumber, &doc.IssueDate, &environment,
		&client, &lines, &payment, &additional,
		&doc.TaxRate, &doc.SubtotalExempt, &doc.SubtotalTaxable, &doc.DiscountTotal, &doc.TaxTotal, &doc.Total,
		&doc.State, &doc.FailedStage, &doc.FailureReason, &doc.AccessCode, &doc.AuthorizedAt, &doc.SignedXMLKey, &doc.PDFKey,
		&doc.NotifiedAt, &reference, &doc.Motive, &doc.CreditedBy, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Environment = document.Environment(environment)

	if err := json.Unmarshal(client, &doc.Client); err != nil {
		return nil, fmt.Errorf("unmarshal client: %w", err)
	}
	if err := json.Unmarshal(lines, &doc.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal lines: %w", err)
	}
	if err := json.Unmarshal(payment, &doc.Payment); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	if len(additional) > 0 {
		if err := json.Unmarshal(additional, &doc.AdditionalInfo); err != nil {
			return nil, fmt.Errorf("unmarshal additional info: %w", err)
		}
	}
	if len(reference) > 0 {
		doc.Reference = &document.Reference{}
		if err := json.Unmarshal(reference, doc.Reference); err != nil {
			return nil, fmt.Errorf("unmarshal reference: %w", err)
		}
	}
	return &doc, nil
}

func marshalOptional(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}
