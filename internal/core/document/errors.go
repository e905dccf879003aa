package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document does not exist for the tenant.
	ErrNotFound = errors.New("document not found")
	// ErrConcurrentUpdate is returned when a guarded state update lost the race.
	ErrConcurrentUpdate = errors.New("document was modified concurrently")
	// ErrAlreadyCredited is returned when a sale already has a credit note.
	ErrAlreadyCredited = errors.New("sale already annulled by a credit note")
	// ErrNotCreditable is returned when the referenced document is not an authorized sale.
	ErrNotCreditable = errors.New("only authorized sales can be annulled by a credit note")
)

// MalformedDocumentError reports a missing or inconsistent field found before building.
type MalformedDocumentError struct {
	Field  string
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed document: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed document: %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError is returned when an operation is not allowed in the current state.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// QuotaExceededError is returned when the company plan has no invoices left this month.
type QuotaExceededError struct {
	Quota  int
	Issued int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly invoice quota exceeded: %d of %d issued", e.Issued, e.Quota)
}
