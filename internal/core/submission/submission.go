package submission

import (
	"context"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
)

// Payload is the structured detail stored with a submission error.
type Payload struct {
	Error   string             `json:"error"`
	Kind    string             `json:"kind"`
	Reasons []authority.Reason `json:"reasons,omitempty"`
	Attempt int                `json:"attempt,omitempty"`
}

// Error is a durable record of a failed workflow stage.
type Error struct {
	ID          string               `json:"id"`
	TenantID    string               `json:"tenantId"`
	DocumentID  string               `json:"documentId"`
	Stage       document.Stage       `json:"stage"`
	Environment document.Environment `json:"environment"`
	Reference   string               `json:"reference"`
	Payload     Payload              `json:"payload"`
	OccurredAt  time.Time            `json:"occurredAt"`
}

// Repository is append-only storage for submission errors.
type Repository interface {
	Record(ctx context.Context, e Error) error
	ListByDocument(ctx context.Context, tenantID, documentID string) ([]Error, error)
}
