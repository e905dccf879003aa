package issuance

import (
	"context"
	"fmt"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/submission"
)

// Get returns a document of a tenant.
func (w *Workflow) Get(ctx context.Context, tenantID, documentID string) (*document.Document, error) {
	doc, err := w.deps.Documents.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	return doc, nil
}

// Errors returns the submission errors recorded for a document, oldest first.
func (w *Workflow) Errors(ctx context.Context, tenantID, documentID string) ([]submission.Error, error) {
	if _, err := w.Get(ctx, tenantID, documentID); err != nil {
		return nil, err
	}
	errs, err := w.deps.Submissions.ListByDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list submission errors: %w", err)
	}
	return errs, nil
}

// Retry re-enters a failed document at the stage that failed, after the operator
// corrected its cause, and runs the workflow again.
func (w *Workflow) Retry(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := w.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	entry, ok := doc.FailedStage.EntryState()
	if doc.State != document.StateFailed || !ok {
		if !ok {
			entry = document.StateDraft
		}
		return nil, &document.InvalidTransitionError{From: doc.State, To: entry}
	}

	// The correction may have been made to the company profile.
	w.InvalidateCompany(tenantID)
	company, err := w.company(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	r := w.newRun(doc, company)
	stage := doc.FailedStage
	doc.FailedStage = ""
	doc.FailureReason = ""
	if err := w.advance(ctx, r, entry); err != nil {
		return nil, err
	}
	r.log.Info("Retrying failed document", "stage", stage)
	return w.drive(ctx, r)
}

// Void cancels a draft or failed document and reverses its stock movements in the same
// transaction. If any movement cannot be reversed the document is left untouched.
func (w *Workflow) Void(ctx context.Context, tenantID, documentID string) (*document.Document, error) {
	var voided *document.Document
	err := w.deps.Tx.InTx(ctx, func(tx document.Tx) error {
		doc, err := tx.Documents().GetForUpdate(ctx, tenantID, documentID)
		if err != nil {
			return fmt.Errorf("load document %s: %w", documentID, err)
		}
		if !doc.State.CanVoid() {
			return &document.InvalidTransitionError{From: doc.State, To: document.StateVoided}
		}

		reservations, err := tx.Inventory().ActiveReservations(ctx, tenantID, documentID)
		if err != nil {
			return fmt.Errorf("load reservations: %w", err)
		}
		for _, res := range reservations {
			if err := tx.Inventory().AdjustLot(ctx, tenantID, res.LotID, res.Quantity); err != nil {
				return fmt.Errorf("reverse reservation %s: %w", res.ID, err)
			}
		}
		if err := tx.Inventory().MarkReversed(ctx, tenantID, documentID, w.now()); err != nil {
			return err
		}

		if doc.Kind == document.KindCreditNote && doc.Reference != nil {
			if err := tx.Documents().SetCreditedBy(ctx, tenantID, doc.Reference.DocumentID, ""); err != nil {
				return fmt.Errorf("release credited sale: %w", err)
			}
		}

		from := doc.State
		doc.State = document.StateVoided
		if err := tx.Documents().UpdateState(ctx, doc, from); err != nil {
			return fmt.Errorf("void document: %w", err)
		}
		voided = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("Document voided", "tenant_id", tenantID, "document_id", documentID, "full_number", voided.FullNumber)
	return voided, nil
}

// Notify delivers an authorized document to the buyer. Notified documents are sent again
// without changing state.
func (w *Workflow) Notify(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := w.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	company, err := w.company(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r := w.newRun(doc, company)

	switch doc.State {
	case document.StateAuthorized:
		if err := w.notify(ctx, r); err != nil {
			return nil, err
		}
	case document.StateNotified:
		if err := w.deliver(ctx, r); err != nil {
			w.record(ctx, r, document.StageNotify, err, nil, 0)
			r.stop(document.StageNotify, err, nil)
			r.log.Error("Failed to resend notification", "error", err)
		}
	default:
		return nil, &document.InvalidTransitionError{From: doc.State, To: document.StateNotified}
	}
	return r.result(), nil
}
