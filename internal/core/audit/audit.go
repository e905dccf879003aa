package audit

import (
	"context"
	"time"
)

// AuthorityCallLog is an audit record of one call to the tax authority web services.
// Bodies are stored sanitized: signature values and certificates are redacted.
type AuthorityCallLog struct {
	ID              int64
	CorrelationID   string
	Service         string
	Operation       string
	AccessCode      string
	RequestMethod   string
	RequestURL      string
	RequestHeaders  map[string]string
	RequestBody     string
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    string
	DurationMs      int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Repository defines the contract for persisting and retrieving audit logs.
type Repository interface {
	// Save persists an audit log entry to storage.
	Save(ctx context.Context, log AuthorityCallLog) error

	// FindByCorrelationID retrieves all audit logs associated with a correlation ID.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]AuthorityCallLog, error)

	// FindByAccessCode retrieves every authority call made for a document.
	FindByAccessCode(ctx context.Context, accessCode string) ([]AuthorityCallLog, error)
}
