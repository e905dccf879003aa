package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"3tcapital/ms_emision_electronica/internal/core/audit"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"
)

// Repository implements the audit.Repository interface using PostgreSQL.
type Repository struct {
	db  database.DBTX
	log *slog.Logger
}

// NewRepository creates a new PostgreSQL audit repository. log may be nil.
func NewRepository(db database.DBTX, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

// Save persists an audit log entry to the database.
func (r *Repository) Save(ctx context.Context, entry audit.AuthorityCallLog) error {
	query := `
		INSERT INTO authority_call_log (
			correlation_id, service, operation, access_code, request_method, request_url,
			request_headers, request_body, response_status, response_headers,
			response_body, duration_ms, error_message
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	requestHeadersJSON, err := json.Marshal(entry.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	responseHeadersJSON, err := json.Marshal(entry.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		entry.CorrelationID,
		entry.Service,
		entry.Operation,
		entry.AccessCode,
		entry.RequestMethod,
		entry.RequestURL,
		requestHeadersJSON,
		entry.RequestBody,
		entry.ResponseStatus,
		responseHeadersJSON,
		entry.ResponseBody,
		entry.DurationMs,
		entry.ErrorMessage,
	)
	if err != nil {
		err = fmt.Errorf("insert audit log: %w", err)
		if r.log != nil {
			r.log.Error("Failed to insert audit log into database",
				"correlation_id", entry.CorrelationID,
				"service", entry.Service,
				"operation", entry.Operation,
				"access_code", entry.AccessCode,
				"error", err,
			)
		}
		return err
	}

	if r.log != nil {
		r.log.Debug("Audit log saved",
			"correlation_id", entry.CorrelationID,
			"service", entry.Service,
			"operation", entry.Operation,
			"duration_ms", entry.DurationMs,
		)
	}
	return nil
}

// FindByCorrelationID retrieves all audit logs with the given correlation ID.
func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]audit.AuthorityCallLog, error) {
	return r.find(ctx, "correlation_id", correlationID)
}

// FindByAccessCode retrieves all audit logs of one document.
func (r *Repository) FindByAccessCode(ctx context.Context, accessCode string) ([]audit.AuthorityCallLog, error) {
	return r.find(ctx, "access_code", accessCode)
}

func (r *Repository) find(ctx context.Context, column, value string) ([]audit.AuthorityCallLog, error) {
	query := fmt.Sprintf(`
		SELECT id, correlation_id, service, operation, COALESCE(access_code, ''), request_method, request_url,
		       request_headers, COALESCE(request_body, ''), response_status, response_headers,
		       COALESCE(response_body, ''), duration_ms, COALESCE(error_message, ''), created_at
		FROM authority_call_log
		WHERE %s = $1
		ORDER BY created_at DESC
	`, column)

	rows, err := r.db.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []audit.AuthorityCallLog
	for rows.Next() {
		var entry audit.AuthorityCallLog
		var requestHeadersJSON, responseHeadersJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.CorrelationID,
			&entry.Service,
			&entry.Operation,
			&entry.AccessCode,
			&entry.RequestMethod,
			&entry.RequestURL,
			&requestHeadersJSON,
			&entry.RequestBody,
			&entry.ResponseStatus,
			&responseHeadersJSON,
			&entry.ResponseBody,
			&entry.DurationMs,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}

		if len(requestHeadersJSON) > 0 {
			if err := json.Unmarshal(requestHeadersJSON, &entry.RequestHeaders); err != nil {
				return nil, fmt.Errorf("unmarshal request headers: %w", err)
			}
		}
		if len(responseHeadersJSON) > 0 {
			if err := json.Unmarshal(responseHeadersJSON, &entry.ResponseHeaders); err != nil {
				return nil, fmt.Errorf("unmarshal response headers: %w", err)
			}
		}

		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return logs, nil
}
