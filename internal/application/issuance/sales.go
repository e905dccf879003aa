package issuance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/inventory"
	"3tcapital/ms_emision_electronica/internal/core/sequence"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// issuingZone is the local time of the tax authority; issue dates follow its calendar.
var issuingZone = time.FixedZone("ECT", -5*60*60)

// LineRequest is one item of a sale to create.
type LineRequest struct {
	ProductID    string
	Quantity     int64
	UnitPrice    decimal.Decimal
	DiscountRate decimal.Decimal
}

// SaleRequest describes a sale to invoice.
type SaleRequest struct {
	TenantID       string
	IssueDate      time.Time
	Client         document.Client
	Lines          []LineRequest
	Payment        document.Payment
	AdditionalInfo []document.AdditionalInfo
}

func (r SaleRequest) validate() error {
	if r.TenantID == "" {
		return &document.MalformedDocumentError{Field: "tenantId"}
	}
	if len(r.Lines) == 0 {
		return &document.MalformedDocumentError{Field: "lines", Reason: "at least one line is required"}
	}
	one := decimal.NewFromInt(1)
	for i, l := range r.Lines {
		field := fmt.Sprintf("lines[%d]", i+1)
		switch {
		case l.ProductID == "":
			return &document.MalformedDocumentError{Field: field + ".productId"}
		case l.Quantity <= 0:
			return &document.MalformedDocumentError{Field: field + ".quantity", Reason: "must be positive"}
		case l.UnitPrice.IsNegative():
			return &document.MalformedDocumentError{Field: field + ".unitPrice", Reason: "cannot be negative"}
		case l.DiscountRate.IsNegative() || l.DiscountRate.GreaterThan(one):
			return &document.MalformedDocumentError{Field: field + ".discountRate", Reason: "must be between 0 and 1"}
		}
	}
	return nil
}

// CreditNoteRequest describes the annulment of an authorized sale.
type CreditNoteRequest struct {
	TenantID  string
	SaleID    string
	Motive    string
	IssueDate time.Time
}

// CreateSale stores a new invoice in one transaction (number allocation, quota check,
// insert, FIFO lot allocation) and then runs the workflow on it.
func (w *Workflow) CreateSale(ctx context.Context, req SaleRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	company, err := w.company(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = w.today()
	}

	doc := &document.Document{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		Kind:           document.KindInvoice,
		Series:         document.KindInvoice.Series(),
		IssueDate:      issueDate,
		Environment:    company.Environment,
		Client:         req.Client,
		Payment:        req.Payment,
		AdditionalInfo: req.AdditionalInfo,
		TaxRate:        company.TaxRate(),
		State:          document.StateDraft,
	}

	err = w.deps.Tx.InTx(ctx, func(tx document.Tx) error {
		// The series row lock taken by the allocation serializes invoice creation per
		// tenant, so the quota count below cannot race another sale.
		if err := assignNumber(ctx, tx, doc, company); err != nil {
			return err
		}
		if err := checkQuota(ctx, tx, company, issueDate); err != nil {
			return err
		}

		ids := lo.Uniq(lo.Map(req.Lines, func(l LineRequest, _ int) string { return l.ProductID }))
		products, err := tx.Inventory().Products(ctx, req.TenantID, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		doc.Lines = make([]document.Line, 0, len(req.Lines))
		for i, l := range req.Lines {
			p, ok := products[l.ProductID]
			if !ok {
				return &document.MalformedDocumentError{Field: fmt.Sprintf("lines[%d].productId", i+1), Reason: "unknown product " + l.ProductID}
			}
			doc.Lines = append(doc.Lines, document.Line{
				ID:       uuid.NewString(),
				Position: i + 1,
				Product: document.Product{
					ID:          p.ID,
					Code:        p.Code,
					Name:        p.Name,
					Taxable:     p.Taxable,
					Inventoried: p.Inventoried,
				},
				Quantity:     l.Quantity,
				UnitPrice:    l.UnitPrice,
				DiscountRate: l.DiscountRate,
			})
		}
		doc.ComputeTotals()
		if err := settlePayment(&doc.Payment, doc.Total, issueDate); err != nil {
			return err
		}

		if err := tx.Documents().Insert(ctx, doc); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}

		for _, line := range reservationOrder(doc.Lines) {
			if err := reserve(ctx, tx, doc, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}

	r := w.newRun(doc, company)
	r.log.Info("Sale created", "total", doc.Total.StringFixed(document.MoneyPlaces))
	return w.drive(ctx, r)
}

// CreateCreditNote annuls an authorized sale: it copies every line, returns the drawn
// stock to its lots and links the sale to the note, then runs the workflow on the note.
func (w *Workflow) CreateCreditNote(ctx context.Context, req CreditNoteRequest) (*Result, error) {
	company, err := w.company(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = w.today()
	}

	var note *document.Document
	err = w.deps.Tx.InTx(ctx, func(tx document.Tx) error {
		sale, err := tx.Documents().GetForUpdate(ctx, req.TenantID, req.SaleID)
		if err != nil {
			return fmt.Errorf("load sale %s: %w", req.SaleID, err)
		}
		if sale.Kind != document.KindInvoice || !sale.State.CanCredit() {
			return fmt.Errorf("%w: %s %s is %s", document.ErrNotCreditable, sale.Kind, sale.FullNumber, sale.State)
		}
		if sale.CreditedBy != "" {
			return document.ErrAlreadyCredited
		}

		var sourceLines map[string]string
		note, sourceLines = newCreditNote(sale, req.Motive, issueDate, company)
		if err := assignNumber(ctx, tx, note, company); err != nil {
			return err
		}
		if err := tx.Documents().Insert(ctx, note); err != nil {
			return fmt.Errorf("insert credit note: %w", err)
		}
		if err := restock(ctx, tx, sale, note, sourceLines); err != nil {
			return err
		}
		return tx.Documents().SetCreditedBy(ctx, req.TenantID, sale.ID, note.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create credit note: %w", err)
	}

	r := w.newRun(note, company)
	r.log.Info("Credit note created", "sale_id", req.SaleID)
	return w.drive(ctx, r)
}

// newCreditNote copies the sale into a draft credit note. The returned map links sale
// line ids to note line ids.
func newCreditNote(sale *document.Document, motive string, issueDate time.Time, company *document.Company) (*document.Document, map[string]string) {
	motive = strings.TrimSpace(motive)
	if motive == "" {
		motive = "NOTA DE CREDITO DE LA VENTA " + sale.FullNumber
	}

	note := &document.Document{
		ID:             uuid.NewString(),
		TenantID:       sale.TenantID,
		Kind:           document.KindCreditNote,
		Series:         document.KindCreditNote.Series(),
		IssueDate:      issueDate,
		Environment:    company.Environment,
		Client:         sale.Client,
		Payment:        sale.Payment,
		AdditionalInfo: append([]document.AdditionalInfo(nil), sale.AdditionalInfo...),
		TaxRate:        sale.TaxRate,
		State:          document.StateDraft,
		Reference: &document.Reference{
			DocumentID: sale.ID,
			Kind:       sale.Kind,
			FullNumber: sale.FullNumber,
			IssueDate:  sale.IssueDate,
		},
		Motive: motive,
	}

	sourceLines := make(map[string]string, len(sale.Lines))
	note.Lines = make([]document.Line, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		copied := l
		copied.ID = uuid.NewString()
		copied.SourceLineID = l.ID
		sourceLines[l.ID] = copied.ID
		note.Lines = append(note.Lines, copied)
	}
	note.ComputeTotals()
	return note, sourceLines
}

func assignNumber(ctx context.Context, tx document.Tx, doc *document.Document, company *document.Company) error {
	number, err := tx.Sequences().Allocate(ctx, doc.TenantID, doc.Series)
	if err != nil {
		return fmt.Errorf("allocate number: %w", err)
	}
	doc.Number = number
	doc.FullNumber = sequence.FullNumber(company.EstablishmentCode, company.IssuingPointCode, number)
	return nil
}

func checkQuota(ctx context.Context, tx document.Tx, company *document.Company, issueDate time.Time) error {
	if company.PlanQuota <= 0 {
		return nil
	}
	from := time.Date(issueDate.Year(), issueDate.Month(), 1, 0, 0, 0, 0, issueDate.Location())
	issued, err := tx.Documents().CountIssued(ctx, company.TenantID, document.KindInvoice, from, from.AddDate(0, 1, 0))
	if err != nil {
		return fmt.Errorf("count issued invoices: %w", err)
	}
	if issued >= company.PlanQuota {
		return &document.QuotaExceededError{Quota: company.PlanQuota, Issued: issued}
	}
	return nil
}

// reservationOrder returns the inventoried lines sorted by product id. Lots are locked in
// this order by every sale, so two sales sharing products never wait on each other in a cycle.
func reservationOrder(lines []document.Line) []document.Line {
	out := lo.Filter(lines, func(l document.Line, _ int) bool { return l.Product.Inventoried })
	slices.SortStableFunc(out, func(a, b document.Line) int {
		return strings.Compare(a.Product.ID, b.Product.ID)
	})
	return out
}

// reserve draws a line's quantity from the product lots, oldest expiration first.
func reserve(ctx context.Context, tx document.Tx, doc *document.Document, line document.Line) error {
	lots, err := tx.Inventory().LockLots(ctx, doc.TenantID, line.Product.ID)
	if err != nil {
		return fmt.Errorf("lock lots of %s: %w", line.Product.ID, err)
	}
	draws, err := inventory.Allocate(line.Product.ID, lots, line.Quantity)
	if err != nil {
		return err
	}
	for _, d := range draws {
		if err := tx.Inventory().AdjustLot(ctx, doc.TenantID, d.LotID, -d.Quantity); err != nil {
			return err
		}
		err := tx.Inventory().InsertReservation(ctx, inventory.Reservation{
			ID:         uuid.NewString(),
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			LineID:     line.ID,
			LotID:      d.LotID,
			Quantity:   d.Quantity,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// restock returns what the sale drew to the same lots and records the movement against
// the credit note with negative quantities.
func restock(ctx context.Context, tx document.Tx, sale, note *document.Document, sourceLines map[string]string) error {
	reservations, err := tx.Inventory().ActiveReservations(ctx, sale.TenantID, sale.ID)
	if err != nil {
		return fmt.Errorf("load sale reservations: %w", err)
	}
	for _, res := range reservations {
		if err := tx.Inventory().AdjustLot(ctx, sale.TenantID, res.LotID, res.Quantity); err != nil {
			return err
		}
		err := tx.Inventory().InsertReservation(ctx, inventory.Reservation{
			ID:         uuid.NewString(),
			TenantID:   note.TenantID,
			DocumentID: note.ID,
			LineID:     sourceLines[res.LineID],
			LotID:      res.LotID,
			Quantity:   -res.Quantity,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// settlePayment completes the payment block against the document total.
func settlePayment(p *document.Payment, total decimal.Decimal, issueDate time.Time) error {
	switch p.Type {
	case "", document.PaymentCash:
		p.Type = document.PaymentCash
		if p.Cash.IsZero() {
			p.Cash = total
		}
		if p.Cash.LessThan(total) {
			return &document.MalformedDocumentError{Field: "payment.cash", Reason: "does not cover the total " + total.StringFixed(document.MoneyPlaces)}
		}
		p.Change = p.Cash.Sub(total)
		p.TermDays = 0
		p.DueDate = nil
	case document.PaymentCredit:
		if p.TermDays <= 0 {
			return &document.MalformedDocumentError{Field: "payment.termDays", Reason: "credit sales need a positive term"}
		}
		due := issueDate.AddDate(0, 0, p.TermDays)
		p.DueDate = &due
		p.Cash = decimal.Zero
		p.Change = decimal.Zero
	default:
		return &document.MalformedDocumentError{Field: "payment.type", Reason: fmt.Sprintf("unknown payment type %q", p.Type)}
	}
	return nil
}

// today is the current calendar date in the issuing zone, as a UTC midnight.
func (w *Workflow) today() time.Time {
	local := w.now().In(issuingZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
