package document

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"3tcapital/ms_emision_electronica/internal/application/issuance"
	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ClientRequest is the buyer block of a sale.
type ClientRequest struct {
	IdentificationType string `json:"identificationType" validate:"required,oneof=04 05 06 07 08"`
	Identification     string `json:"identification" validate:"required,max=20"`
	Name               string `json:"name" validate:"required,max=300"`
	Address            string `json:"address" validate:"omitempty,max=300"`
	Phone              string `json:"phone" validate:"omitempty,max=30"`
	Email              string `json:"email" validate:"omitempty,email"`
}

// LineRequest is one item of a sale.
type LineRequest struct {
	ProductID    string          `json:"productId" validate:"required"`
	Quantity     int64           `json:"quantity" validate:"gt=0"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	DiscountRate decimal.Decimal `json:"discountRate"`
}

// PaymentRequest says how the sale is paid. Cash defaults to the total.
type PaymentRequest struct {
	Type       string          `json:"type" validate:"omitempty,oneof=cash credit"`
	MethodCode string          `json:"methodCode" validate:"omitempty,len=2,numeric"`
	Cash       decimal.Decimal `json:"cash"`
	TermDays   int             `json:"termDays" validate:"gte=0"`
}

// AdditionalInfoRequest is a free-form row printed on the document.
type AdditionalInfoRequest struct {
	Name  string `json:"name" validate:"required,max=300"`
	Value string `json:"value" validate:"required,max=300"`
}

// CreateSaleRequest is the body of POST /sales.
type CreateSaleRequest struct {
	IssueDate      string                  `json:"issueDate" validate:"omitempty,datetime=2006-01-02"`
	Client         ClientRequest           `json:"client"`
	Lines          []LineRequest           `json:"lines" validate:"required,min=1,dive"`
	Payment        PaymentRequest          `json:"payment"`
	AdditionalInfo []AdditionalInfoRequest `json:"additionalInfo" validate:"omitempty,max=15,dive"`
}

// Validate checks the request shape. Amounts are checked by the workflow.
func (r *CreateSaleRequest) Validate() error {
	return validate.Struct(r)
}

// ToSaleRequest maps the body to the workflow input.
func (r *CreateSaleRequest) ToSaleRequest(tenantID string) issuance.SaleRequest {
	req := issuance.SaleRequest{
		TenantID:  tenantID,
		IssueDate: parseDate(r.IssueDate),
		Client: document.Client{
			IdentificationType: r.Client.IdentificationType,
			Identification:     strings.TrimSpace(r.Client.Identification),
			Name:               strings.TrimSpace(r.Client.Name),
			Address:            strings.TrimSpace(r.Client.Address),
			Phone:              r.Client.Phone,
			Email:              strings.TrimSpace(r.Client.Email),
		},
		Lines: lo.Map(r.Lines, func(l LineRequest, _ int) issuance.LineRequest {
			return issuance.LineRequest{
				ProductID:    l.ProductID,
				Quantity:     l.Quantity,
				UnitPrice:    l.UnitPrice,
				DiscountRate: l.DiscountRate,
			}
		}),
		Payment: document.Payment{
			Type:       document.PaymentType(r.Payment.Type),
			MethodCode: r.Payment.MethodCode,
			Cash:       r.Payment.Cash,
			TermDays:   r.Payment.TermDays,
		},
		AdditionalInfo: lo.Map(r.AdditionalInfo, func(a AdditionalInfoRequest, _ int) document.AdditionalInfo {
			return document.AdditionalInfo{Name: a.Name, Value: a.Value}
		}),
	}
	return req
}

// CreateCreditNoteRequest is the body of POST /sales/{documentID}/credit-notes.
type CreateCreditNoteRequest struct {
	Motive    string `json:"motive" validate:"required,max=300"`
	IssueDate string `json:"issueDate" validate:"omitempty,datetime=2006-01-02"`
}

// Validate checks the request shape.
func (r *CreateCreditNoteRequest) Validate() error {
	return validate.Struct(r)
}

// ToCreditNoteRequest maps the body to the workflow input.
func (r *CreateCreditNoteRequest) ToCreditNoteRequest(tenantID, saleID string) issuance.CreditNoteRequest {
	return issuance.CreditNoteRequest{
		TenantID:  tenantID,
		SaleID:    saleID,
		Motive:    r.Motive,
		IssueDate: parseDate(r.IssueDate),
	}
}

// parseDate reads an already validated date; empty means today.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(dateLayout, s)
	return t
}

// validationMessages flattens validator errors into one message per field.
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	return lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			return field + ": " + fe.Tag() + "=" + fe.Param()
		}
		return field + ": " + fe.Tag()
	})
}

// ResultResponse is returned by every route that runs the workflow.
type ResultResponse struct {
	Document    *document.Document `json:"document"`
	State       document.State     `json:"state"`
	Status      document.Status    `json:"status"`
	Stage       document.Stage     `json:"stage,omitempty"`
	FailedStage document.Stage     `json:"failedStage,omitempty"`
	Reasons     []authority.Reason `json:"reasons,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func newResultResponse(res *issuance.Result) ResultResponse {
	resp := ResultResponse{
		Document:    res.Document,
		State:       res.State,
		Status:      res.State.Status(),
		Stage:       res.Stage,
		FailedStage: res.FailedStage,
		Reasons:     res.Reasons,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}
