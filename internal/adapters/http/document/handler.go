package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"3tcapital/ms_emision_electronica/internal/application/issuance"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/submission"
	ctxutil "3tcapital/ms_emision_electronica/internal/infrastructure/context"
	httperrors "3tcapital/ms_emision_electronica/internal/infrastructure/http"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds request bodies; a sale with many lines stays well below it.
const maxBodyBytes = 1 << 20

// Handler bridges HTTP traffic with the issuance workflow.
type Handler struct {
	workflow *issuance.Workflow
	log      *slog.Logger
}

// NewHandler creates a new document HTTP handler.
func NewHandler(workflow *issuance.Workflow, log *slog.Logger) *Handler {
	return &Handler{
		workflow: workflow,
		log:      log,
	}
}

// DocumentResponse wraps a document that was not run through the workflow.
type DocumentResponse struct {
	Document *document.Document `json:"document"`
	Status   document.Status    `json:"status"`
}

// ErrorsResponse lists the submission errors of a document, oldest first.
type ErrorsResponse struct {
	DocumentID string             `json:"documentId"`
	Total      int                `json:"total"`
	Errors     []submission.Error `json:"errors"`
}

// CreateSale handles POST /api/v1/tenants/{tenantID}/sales.
// The sale is stored before the workflow runs, so any outcome of the run answers 201.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var body CreateSaleRequest
	if !h.decode(w, r, &body) {
		return
	}
	if err := body.Validate(); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", validationMessages(err), h.log)
		return
	}

	res, err := h.workflow.CreateSale(r.Context(), body.ToSaleRequest(chi.URLParam(r, "tenantID")))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusCreated, newResultResponse(res), h.log)
}

// CreateCreditNote handles POST /api/v1/tenants/{tenantID}/sales/{documentID}/credit-notes.
func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	var body CreateCreditNoteRequest
	if !h.decode(w, r, &body) {
		return
	}
	if err := body.Validate(); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", validationMessages(err), h.log)
		return
	}

	req := body.ToCreditNoteRequest(chi.URLParam(r, "tenantID"), chi.URLParam(r, "documentID"))
	res, err := h.workflow.CreateCreditNote(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusCreated, newResultResponse(res), h.log)
}

// GetDocument handles GET /api/v1/tenants/{tenantID}/documents/{documentID}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.workflow.Get(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "documentID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, DocumentResponse{Document: doc, Status: doc.Status()}, h.log)
}

// ListErrors handles GET /api/v1/tenants/{tenantID}/documents/{documentID}/errors.
func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	errs, err := h.workflow.Errors(r.Context(), chi.URLParam(r, "tenantID"), documentID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, ErrorsResponse{DocumentID: documentID, Total: len(errs), Errors: errs}, h.log)
}

// Retry handles POST /api/v1/tenants/{tenantID}/documents/{documentID}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.runWorkflow(w, r, h.workflow.Retry)
}

// Notify handles POST /api/v1/tenants/{tenantID}/documents/{documentID}/notify.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	h.runWorkflow(w, r, h.workflow.Notify)
}

// Void handles POST /api/v1/tenants/{tenantID}/documents/{documentID}/void.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	doc, err := h.workflow.Void(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "documentID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, DocumentResponse{Document: doc, Status: doc.Status()}, h.log)
}

func (h *Handler) runWorkflow(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, documentID string) (*issuance.Result, error)) {
	res, err := op(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "documentID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, newResultResponse(res), h.log)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.log.Warn("invalid request body",
			"error", err,
			"path", r.URL.Path,
			"correlation_id", ctxutil.GetCorrelationID(r.Context()),
		)
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, h.log)
		return false
	}
	return true
}

// handleError maps workflow errors to HTTP responses and logs them.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		malformed  *document.MalformedDocumentError
		transition *document.InvalidTransitionError
		quota      *document.QuotaExceededError
		stock      *inventory.InsufficientStockError
	)

	status := http.StatusInternalServerError
	message := "Error Interno del Servidor"
	details := []string{"Ha ocurrido un error interno"}

	switch {
	case errors.As(err, &malformed):
		status, message, details = http.StatusBadRequest, "Error de Validación", []string{malformed.Error()}
	case errors.Is(err, document.ErrNotFound):
		status, message, details = http.StatusNotFound, "Recurso no encontrado", []string{"El recurso solicitado no existe"}
	case errors.As(err, &stock):
		status, message, details = http.StatusUnprocessableEntity, "Stock insuficiente", []string{stock.Error()}
	case errors.As(err, &quota):
		status, message, details = http.StatusPaymentRequired, "Cupo del plan agotado", []string{quota.Error()}
	case errors.As(err, &transition):
		status, message, details = http.StatusConflict, "Operación no permitida", []string{transition.Error()}
	case errors.Is(err, document.ErrAlreadyCredited), errors.Is(err, document.ErrNotCreditable):
		status, message, details = http.StatusConflict, "Operación no permitida", []string{err.Error()}
	case errors.Is(err, document.ErrConcurrentUpdate):
		status, message, details = http.StatusConflict, "Conflicto", []string{"El documento está siendo procesado, intente nuevamente"}
	case errors.Is(err, context.DeadlineExceeded):
		status, message, details = http.StatusGatewayTimeout, "Tiempo de espera agotado", []string{"El documento quedó registrado y se completará en segundo plano"}
	}

	attrs := []any{
		"error", err,
		"status_code", status,
		"method", r.Method,
		"path", r.URL.Path,
		"tenant_id", chi.URLParam(r, "tenantID"),
		"correlation_id", ctxutil.GetCorrelationID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", attrs...)
	} else {
		h.log.Warn("request failed", attrs...)
	}

	httperrors.WriteError(w, status, message, details, h.log)
}
