package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/document"
)

// Reason is one message the tax authority attached to a response.
type Reason struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
	Type           string `json:"type,omitempty"`
}

func (r Reason) String() string {
	if r.AdditionalInfo == "" {
		return fmt.Sprintf("%s: %s", r.Code, r.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Code, r.Message, r.AdditionalInfo)
}

// ValidationResult is the outcome of the reception (structural validation) service.
type ValidationResult struct {
	Accepted bool
	Reasons  []Reason
}

// AuthorizationStatus is the authority's authorization verdict.
type AuthorizationStatus string

const (
	StatusAuthorized AuthorizationStatus = "authorized"
	StatusPending    AuthorizationStatus = "pending"
	StatusRejected   AuthorizationStatus = "rejected"
)

// AuthorizationResult is the outcome of the authorization service.
type AuthorizationResult struct {
	Status       AuthorizationStatus
	AccessCode   string
	AuthorizedAt *time.Time
	Reasons      []Reason
}

// Client talks to the tax authority. Implementations return a TransientSubmissionError for
// network or server problems so callers can retry.
type Client interface {
	// SubmitForValidation sends a signed document to the reception service.
	SubmitForValidation(ctx context.Context, env document.Environment, signed []byte) (ValidationResult, error)
	// RequestAuthorization asks for the authorization of an access code for the first time.
	RequestAuthorization(ctx context.Context, env document.Environment, accessCode string) (AuthorizationResult, error)
	// FetchStatus polls the authorization status of an access code.
	FetchStatus(ctx context.Context, env document.Environment, accessCode string) (AuthorizationResult, error)
}

// RejectedError means the authority refused the document. It is not retryable.
type RejectedError struct {
	Stage   document.Stage
	Reasons []Reason
}

func (e *RejectedError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		parts = append(parts, r.String())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("rejected by authority at %s", e.Stage)
	}
	return fmt.Sprintf("rejected by authority at %s: %s", e.Stage, strings.Join(parts, "; "))
}

// TransientSubmissionError wraps a retryable failure talking to the authority.
type TransientSubmissionError struct {
	Op  string
	Err error
}

func (e *TransientSubmissionError) Error() string {
	return fmt.Sprintf("authority %s: %v", e.Op, e.Err)
}

func (e *TransientSubmissionError) Unwrap() error {
	return e.Err
}

// TimeoutExceededError means authorization stayed pending after every allowed attempt.
type TimeoutExceededError struct {
	Attempts int
}

func (e *TimeoutExceededError) Error() string {
	return fmt.Sprintf("authorization still pending after %d attempts", e.Attempts)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientSubmissionError
	return errors.As(err, &transient)
}
