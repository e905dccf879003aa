// Package sri renders documents in the authority's XML format (factura and notaCredito
// version 1.1.0) and derives their access codes.
package sri

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/sequence"

	"github.com/shopspring/decimal"
)

const (
	schemaVersion = "1.1.0"
	rootID        = "comprobante"
	currency      = "DOLAR"
	taxCodeVAT    = "2"
	dateLayout    = "02/01/2006"
)

// Builder renders documents. It holds no state.
type Builder struct{}

// NewBuilder returns a document builder.
func NewBuilder() *Builder {
	return &Builder{}
}

var _ document.Builder = (*Builder)(nil)

// AccessCode derives the access code of the snapshot's document.
func (b *Builder) AccessCode(s document.Snapshot) (string, error) {
	return AccessCode(&s.Document, &s.Company)
}

// Build validates the snapshot and renders its unsigned XML.
func (b *Builder) Build(s document.Snapshot) ([]byte, error) {
	doc := &s.Document
	company := &s.Company

	if err := validate(doc, company); err != nil {
		return nil, err
	}

	var root any
	var err error
	switch doc.Kind {
	case document.KindInvoice:
		root, err = invoiceXML(doc, company)
	case document.KindCreditNote:
		root, err = creditNoteXML(doc, company)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	if err := xml.NewEncoder(&buf).Encode(root); err != nil {
		return nil, fmt.Errorf("encode %s: %w", doc.Kind, err)
	}
	return buf.Bytes(), nil
}

func validate(doc *document.Document, company *document.Company) error {
	switch {
	case !doc.Kind.Valid():
		return &document.MalformedDocumentError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", doc.Kind)}
	case !isDigits(company.TaxID, 13):
		return &document.MalformedDocumentError{Field: "company.taxId", Reason: "must be 13 digits"}
	case strings.TrimSpace(company.LegalName) == "":
		return &document.MalformedDocumentError{Field: "company.legalName"}
	case !isDigits(company.EstablishmentCode, 3):
		return &document.MalformedDocumentError{Field: "company.establishmentCode", Reason: "must be 3 digits"}
	case !isDigits(company.IssuingPointCode, 3):
		return &document.MalformedDocumentError{Field: "company.issuingPointCode", Reason: "must be 3 digits"}
	case !ValidAccessCode(doc.AccessCode):
		return &document.MalformedDocumentError{Field: "accessCode", Reason: "must be 49 digits with a valid check digit"}
	case strings.TrimSpace(doc.Client.Identification) == "":
		return &document.MalformedDocumentError{Field: "client.identification"}
	case strings.TrimSpace(doc.Client.Name) == "":
		return &document.MalformedDocumentError{Field: "client.name"}
	case len(doc.Lines) == 0:
		return &document.MalformedDocumentError{Field: "lines", Reason: "at least one line is required"}
	}

	if doc.Kind == document.KindCreditNote {
		if doc.Reference == nil || doc.Reference.FullNumber == "" {
			return &document.MalformedDocumentError{Field: "reference"}
		}
		if strings.TrimSpace(doc.Motive) == "" {
			return &document.MalformedDocumentError{Field: "motive"}
		}
	}

	if _, err := percentageCode(doc.TaxRate); err != nil && hasTaxable(doc) {
		return err
	}
	return doc.CheckTotals()
}

// percentageCode maps a tax rate fraction to the authority's codigoPorcentaje.
func percentageCode(rate decimal.Decimal) (string, error) {
	percent := rate.Mul(decimal.NewFromInt(100))
	if !percent.IsInteger() {
		return "", &document.MalformedDocumentError{Field: "taxRate", Reason: fmt.Sprintf("unsupported rate %s%%", percent)}
	}
	switch percent.IntPart() {
	case 0:
		return "0", nil
	case 12:
		return "2", nil
	case 14:
		return "3", nil
	case 15:
		return "4", nil
	case 5:
		return "5", nil
	case 13:
		return "10", nil
	default:
		return "", &document.MalformedDocumentError{Field: "taxRate", Reason: fmt.Sprintf("unsupported rate %s%%", percent)}
	}
}

func hasTaxable(doc *document.Document) bool {
	for _, l := range doc.Lines {
		if l.Product.Taxable {
			return true
		}
	}
	return false
}

func money(d decimal.Decimal) string {
	return d.StringFixed(document.MoneyPlaces)
}

func yesNo(b bool) string {
	if b {
		return "SI"
	}
	return "NO"
}

type taxInfoXML struct {
	Environment    int    `xml:"ambiente"`
	EmissionType   int    `xml:"tipoEmision"`
	LegalName      string `xml:"razonSocial"`
	TradeName      string `xml:"nombreComercial,omitempty"`
	TaxID          string `xml:"ruc"`
	AccessCode     string `xml:"claveAcceso"`
	DocCode        string `xml:"codDoc"`
	Establishment  string `xml:"estab"`
	IssuingPoint   string `xml:"ptoEmi"`
	Sequence       string `xml:"secuencial"`
	MainAddress    string `xml:"dirMatriz"`
	RetentionAgent string `xml:"agenteRetencion,omitempty"`
}

type totalTaxXML struct {
	Code           string `xml:"codigo"`
	PercentageCode string `xml:"codigoPorcentaje"`
	Base           string `xml:"baseImponible"`
	Value          string `xml:"valor"`
}

type lineTaxXML struct {
	Code           string `xml:"codigo"`
	PercentageCode string `xml:"codigoPorcentaje"`
	Rate           string `xml:"tarifa"`
	Base           string `xml:"baseImponible"`
	Value          string `xml:"valor"`
}

type paymentXML struct {
	Method   string `xml:"formaPago"`
	Total    string `xml:"total"`
	Term     int    `xml:"plazo,omitempty"`
	TermUnit string `xml:"unidadTiempo,omitempty"`
}

type additionalFieldXML struct {
	Name  string `xml:"nombre,attr"`
	Value string `xml:",chardata"`
}

type additionalInfoXML struct {
	Fields []additionalFieldXML `xml:"campoAdicional"`
}

type invoiceLineXML struct {
	MainCode   string       `xml:"codigoPrincipal"`
	Desc       string       `xml:"descripcion"`
	Quantity   string       `xml:"cantidad"`
	UnitPrice  string       `xml:"precioUnitario"`
	Discount   string       `xml:"descuento"`
	TotalNoTax string       `xml:"precioTotalSinImpuesto"`
	Taxes      []lineTaxXML `xml:"impuestos>impuesto"`
}

type invoiceInfoXML struct {
	IssueDate            string        `xml:"fechaEmision"`
	EstablishmentAddress string        `xml:"dirEstablecimiento,omitempty"`
	SpecialTaxpayer      string        `xml:"contribuyenteEspecial,omitempty"`
	ObligatedAccounting  string        `xml:"obligadoContabilidad"`
	BuyerIDType          string        `xml:"tipoIdentificacionComprador"`
	BuyerName            string        `xml:"razonSocialComprador"`
	BuyerID              string        `xml:"identificacionComprador"`
	BuyerAddress         string        `xml:"direccionComprador,omitempty"`
	TotalNoTax           string        `xml:"totalSinImpuestos"`
	TotalDiscount        string        `xml:"totalDescuento"`
	Taxes                []totalTaxXML `xml:"totalConImpuestos>totalImpuesto"`
	Tip                  string        `xml:"propina"`
	Total                string        `xml:"importeTotal"`
	Currency             string        `xml:"moneda"`
	Payments             []paymentXML  `xml:"pagos>pago"`
}

type invoiceRootXML struct {
	XMLName    xml.Name           `xml:"factura"`
	ID         string             `xml:"id,attr"`
	Version    string             `xml:"version,attr"`
	TaxInfo    taxInfoXML         `xml:"infoTributaria"`
	Info       invoiceInfoXML     `xml:"infoFactura"`
	Lines      []invoiceLineXML   `xml:"detalles>detalle"`
	Additional *additionalInfoXML `xml:"infoAdicional,omitempty"`
}

type creditNoteLineXML struct {
	InternalCode string       `xml:"codigoInterno"`
	Desc         string       `xml:"descripcion"`
	Quantity     string       `xml:"cantidad"`
	UnitPrice    string       `xml:"precioUnitario"`
	Discount     string       `xml:"descuento"`
	TotalNoTax   string       `xml:"precioTotalSinImpuesto"`
	Taxes        []lineTaxXML `xml:"impuestos>impuesto"`
}

type creditNoteInfoXML struct {
	IssueDate            string        `xml:"fechaEmision"`
	EstablishmentAddress string        `xml:"dirEstablecimiento,omitempty"`
	BuyerIDType          string        `xml:"tipoIdentificacionComprador"`
	BuyerName            string        `xml:"razonSocialComprador"`
	BuyerID              string        `xml:"identificacionComprador"`
	SpecialTaxpayer      string        `xml:"contribuyenteEspecial,omitempty"`
	ObligatedAccounting  string        `xml:"obligadoContabilidad"`
	ModifiedDocCode      string        `xml:"codDocModificado"`
	ModifiedDocNumber    string        `xml:"numDocModificado"`
	ModifiedDocDate      string        `xml:"fechaEmisionDocSustento"`
	TotalNoTax           string        `xml:"totalSinImpuestos"`
	ModifiedValue        string        `xml:"valorModificacion"`
	Currency             string        `xml:"moneda"`
	Taxes                []totalTaxXML `xml:"totalConImpuestos>totalImpuesto"`
	Motive               string        `xml:"motivo"`
}

type creditNoteRootXML struct {
	XMLName    xml.Name            `xml:"notaCredito"`
	ID         string              `xml:"id,attr"`
	Version    string              `xml:"version,attr"`
	TaxInfo    taxInfoXML          `xml:"infoTributaria"`
	Info       creditNoteInfoXML   `xml:"infoNotaCredito"`
	Lines      []creditNoteLineXML `xml:"detalles>detalle"`
	Additional *additionalInfoXML  `xml:"infoAdicional,omitempty"`
}

func taxInfo(doc *document.Document, company *document.Company) taxInfoXML {
	emission := company.EmissionType
	if emission == 0 {
		emission = 1
	}
	info := taxInfoXML{
		Environment:   int(environmentOf(doc, company)),
		EmissionType:  emission,
		LegalName:     company.LegalName,
		TradeName:     company.TradeName,
		TaxID:         company.TaxID,
		AccessCode:    doc.AccessCode,
		DocCode:       doc.Kind.Code(),
		Establishment: company.EstablishmentCode,
		IssuingPoint:  company.IssuingPointCode,
		Sequence:      sequence.Format(doc.Number),
		MainAddress:   company.MainAddress,
	}
	if company.RetentionAgent {
		info.RetentionAgent = "1"
	}
	return info
}

// totalTaxes groups document bases by percentage code: exempt first, then taxed.
func totalTaxes(doc *document.Document, code string) []totalTaxXML {
	var taxes []totalTaxXML
	if hasExempt(doc) {
		taxes = append(taxes, totalTaxXML{
			Code:           taxCodeVAT,
			PercentageCode: "0",
			Base:           money(doc.SubtotalExempt),
			Value:          money(decimal.Zero),
		})
	}
	if hasTaxable(doc) {
		taxes = append(taxes, totalTaxXML{
			Code:           taxCodeVAT,
			PercentageCode: code,
			Base:           money(doc.SubtotalTaxable),
			Value:          money(doc.TaxTotal),
		})
	}
	return taxes
}

func hasExempt(doc *document.Document) bool {
	for _, l := range doc.Lines {
		if !l.Product.Taxable {
			return true
		}
	}
	return false
}

func lineTax(l document.Line, rate decimal.Decimal, code string) lineTaxXML {
	if !l.Product.Taxable {
		return lineTaxXML{
			Code:           taxCodeVAT,
			PercentageCode: "0",
			Rate:           money(decimal.Zero),
			Base:           money(l.Total),
			Value:          money(decimal.Zero),
		}
	}
	return lineTaxXML{
		Code:           taxCodeVAT,
		PercentageCode: code,
		Rate:           money(rate.Mul(decimal.NewFromInt(100))),
		Base:           money(l.Total),
		Value:          money(l.Tax),
	}
}

func additionalInfo(doc *document.Document) *additionalInfoXML {
	var fields []additionalFieldXML
	add := func(name, value string) {
		if strings.TrimSpace(value) != "" {
			fields = append(fields, additionalFieldXML{Name: name, Value: value})
		}
	}
	add("Direccion", doc.Client.Address)
	add("Telefono", doc.Client.Phone)
	add("Email", doc.Client.Email)
	for _, info := range doc.AdditionalInfo {
		add(info.Name, info.Value)
	}
	if len(fields) == 0 {
		return nil
	}
	return &additionalInfoXML{Fields: fields}
}

func paymentMethod(p document.Payment) string {
	if p.MethodCode != "" {
		return p.MethodCode
	}
	if p.Type == document.PaymentCredit {
		return "20"
	}
	return "01"
}

func invoiceXML(doc *document.Document, company *document.Company) (*invoiceRootXML, error) {
	code := "0"
	if hasTaxable(doc) {
		var err error
		if code, err = percentageCode(doc.TaxRate); err != nil {
			return nil, err
		}
	}

	lines := make([]invoiceLineXML, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		lines = append(lines, invoiceLineXML{
			MainCode:   l.Product.Code,
			Desc:       l.Product.Name,
			Quantity:   money(decimal.NewFromInt(l.Quantity)),
			UnitPrice:  money(l.UnitPrice),
			Discount:   money(l.Discount),
			TotalNoTax: money(l.Total),
			Taxes:      []lineTaxXML{lineTax(l, doc.TaxRate, code)},
		})
	}

	payment := paymentXML{Method: paymentMethod(doc.Payment), Total: money(doc.Total)}
	if doc.Payment.Type == document.PaymentCredit && doc.Payment.TermDays > 0 {
		payment.Term = doc.Payment.TermDays
		payment.TermUnit = "dias"
	}

	return &invoiceRootXML{
		ID:      rootID,
		Version: schemaVersion,
		TaxInfo: taxInfo(doc, company),
		Info: invoiceInfoXML{
			IssueDate:            doc.IssueDate.Format(dateLayout),
			EstablishmentAddress: company.EstablishmentAddress,
			SpecialTaxpayer:      company.SpecialTaxpayer,
			ObligatedAccounting:  yesNo(company.ObligatedAccounting),
			BuyerIDType:          doc.Client.IdentificationType,
			BuyerName:            doc.Client.Name,
			BuyerID:              doc.Client.Identification,
			BuyerAddress:         doc.Client.Address,
			TotalNoTax:           money(doc.Subtotal()),
			TotalDiscount:        money(doc.DiscountTotal),
			Taxes:                totalTaxes(doc, code),
			Tip:                  money(decimal.Zero),
			Total:                money(doc.Total),
			Currency:             currency,
			Payments:             []paymentXML{payment},
		},
		Lines:      lines,
		Additional: additionalInfo(doc),
	}, nil
}

func creditNoteXML(doc *document.Document, company *document.Company) (*creditNoteRootXML, error) {
	code := "0"
	if hasTaxable(doc) {
		var err error
		if code, err = percentageCode(doc.TaxRate); err != nil {
			return nil, err
		}
	}

	lines := make([]creditNoteLineXML, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		lines = append(lines, creditNoteLineXML{
			InternalCode: l.Product.Code,
			Desc:         l.Product.Name,
			Quantity:     money(decimal.NewFromInt(l.Quantity)),
			UnitPrice:    money(l.UnitPrice),
			Discount:     money(l.Discount),
			TotalNoTax:   money(l.Total),
			Taxes:        []lineTaxXML{lineTax(l, doc.TaxRate, code)},
		})
	}

	refKind := doc.Reference.Kind
	if refKind == "" {
		refKind = document.KindInvoice
	}

	return &creditNoteRootXML{
		ID:      rootID,
		Version: schemaVersion,
		TaxInfo: taxInfo(doc, company),
		Info: creditNoteInfoXML{
			IssueDate:            doc.IssueDate.Format(dateLayout),
			EstablishmentAddress: company.EstablishmentAddress,
			BuyerIDType:          doc.Client.IdentificationType,
			BuyerName:            doc.Client.Name,
			BuyerID:              doc.Client.Identification,
			SpecialTaxpayer:      company.SpecialTaxpayer,
			ObligatedAccounting:  yesNo(company.ObligatedAccounting),
			ModifiedDocCode:      refKind.Code(),
			ModifiedDocNumber:    doc.Reference.FullNumber,
			ModifiedDocDate:      doc.Reference.IssueDate.Format(dateLayout),
			TotalNoTax:           money(doc.Subtotal()),
			ModifiedValue:        money(doc.Total),
			Currency:             currency,
			Taxes:                totalTaxes(doc, code),
			Motive:               doc.Motive,
		},
		Lines:      lines,
		Additional: additionalInfo(doc),
	}, nil
}
