package document

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags the two variants of a tax document.
type Kind string

const (
	KindInvoice    Kind = "invoice"
	KindCreditNote Kind = "credit_note"
)

// Code returns the authority receipt code for the kind ("01" invoice, "04" credit note).
func (k Kind) Code() string {
	switch k {
	case KindInvoice:
		return "01"
	case KindCreditNote:
		return "04"
	default:
		return ""
	}
}

// Series returns the numbering series used by the kind. Each receipt type owns one series.
func (k Kind) Series() string {
	return k.Code()
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindInvoice || k == KindCreditNote
}

// Environment is the authority environment a document is issued in.
type Environment int

const (
	EnvironmentTest       Environment = 1
	EnvironmentProduction Environment = 2
)

func (e Environment) String() string {
	switch e {
	case EnvironmentTest:
		return "test"
	case EnvironmentProduction:
		return "production"
	default:
		return "unknown"
	}
}

// PaymentType distinguishes cash sales from sales on credit.
type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentCredit PaymentType = "credit"
)

// Payment holds how the sale was paid.
type Payment struct {
	Type       PaymentType     `json:"type"`
	MethodCode string          `json:"methodCode"`
	Cash       decimal.Decimal `json:"cash"`
	Change     decimal.Decimal `json:"change"`
	TermDays   int             `json:"termDays,omitempty"`
	DueDate    *time.Time      `json:"dueDate,omitempty"`
}

// Product is the subset of catalog data a line needs.
type Product struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Taxable     bool   `json:"taxable"`
	Inventoried bool   `json:"inventoried"`
}

// Line is one item of a document. Computed fields are filled by ComputeTotals.
type Line struct {
	ID           string          `json:"id"`
	Position     int             `json:"position"`
	Product      Product         `json:"product"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	DiscountRate decimal.Decimal `json:"discountRate"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	Tax          decimal.Decimal `json:"tax"`
	SourceLineID string          `json:"sourceLineId,omitempty"`
}

// Client is the buyer of a document.
type Client struct {
	IdentificationType string `json:"identificationType"`
	Identification     string `json:"identification"`
	Name               string `json:"name"`
	Address            string `json:"address"`
	Phone              string `json:"phone"`
	Email              string `json:"email"`
}

// AdditionalInfo is a free-form name/value row printed on the document.
type AdditionalInfo struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Reference points a credit note to the sale it corrects.
type Reference struct {
	DocumentID string    `json:"documentId"`
	Kind       Kind      `json:"kind"`
	FullNumber string    `json:"fullNumber"`
	IssueDate  time.Time `json:"issueDate"`
}

// Document is a sale invoice or a credit note moving through issuance.
type Document struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenantId"`
	Kind           Kind             `json:"kind"`
	Series         string           `json:"series"`
	Number         int64            `json:"number"`
	FullNumber     string           `json:"fullNumber"`
	IssueDate      time.Time        `json:"issueDate"`
	Environment    Environment      `json:"environment"`
	Client         Client           `json:"client"`
	Lines          []Line           `json:"lines"`
	Payment        Payment          `json:"payment"`
	AdditionalInfo []AdditionalInfo `json:"additionalInfo,omitempty"`

	TaxRate         decimal.Decimal `json:"taxRate"`
	SubtotalExempt  decimal.Decimal `json:"subtotalExempt"`
	SubtotalTaxable decimal.Decimal `json:"subtotalTaxable"`
	DiscountTotal   decimal.Decimal `json:"discountTotal"`
	TaxTotal        decimal.Decimal `json:"taxTotal"`
	Total           decimal.Decimal `json:"total"`

	State         State  `json:"state"`
	FailedStage   Stage  `json:"failedStage,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	AccessCode   string     `json:"accessCode,omitempty"`
	AuthorizedAt *time.Time `json:"authorizedAt,omitempty"`
	SignedXMLKey string     `json:"signedXmlKey,omitempty"`
	PDFKey       string     `json:"pdfKey,omitempty"`
	NotifiedAt   *time.Time `json:"notifiedAt,omitempty"`

	Reference  *Reference `json:"reference,omitempty"`
	Motive     string     `json:"motive,omitempty"`
	CreditedBy string     `json:"creditedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status returns the coarse lifecycle status of the document.
func (d *Document) Status() Status {
	return d.State.Status()
}

// Subtotal returns the sum of exempt and taxable subtotals.
func (d *Document) Subtotal() decimal.Decimal {
	return d.SubtotalExempt.Add(d.SubtotalTaxable)
}

// Company is the issuing company of a tenant.
type Company struct {
	TenantID              string          `json:"tenantId"`
	TaxID                 string          `json:"taxId"`
	LegalName             string          `json:"legalName"`
	TradeName             string          `json:"tradeName"`
	MainAddress           string          `json:"mainAddress"`
	EstablishmentAddress  string          `json:"establishmentAddress"`
	EstablishmentCode     string          `json:"establishmentCode"`
	IssuingPointCode      string          `json:"issuingPointCode"`
	SpecialTaxpayer       string          `json:"specialTaxpayer,omitempty"`
	ObligatedAccounting   bool            `json:"obligatedAccounting"`
	RetentionAgent        bool            `json:"retentionAgent"`
	Environment           Environment     `json:"environment"`
	EmissionType          int             `json:"emissionType"`
	TaxRatePercent        decimal.Decimal `json:"taxRatePercent"`
	PlanQuota             int             `json:"planQuota"`
	Email                 string          `json:"email"`
	Phone                 string          `json:"phone"`
	CertificateKey        string          `json:"-"`
	CertificatePassphrase string          `json:"-"`
}

// TaxRate returns the company tax rate as a fraction (15 -> 0.15).
func (c *Company) TaxRate() decimal.Decimal {
	return c.TaxRatePercent.Div(decimal.NewFromInt(100))
}

// Snapshot is everything the document builder needs, frozen at build time.
type Snapshot struct {
	Company  Company
	Document Document
}
