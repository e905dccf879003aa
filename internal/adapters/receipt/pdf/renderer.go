// Package pdf renders the printable receipt (RIDE) of an authorized document.
package pdf

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/receipt"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

const (
	pageMargin  = 10.0
	lineHeight  = 5.0
	barcodeName = "access-code"
)

// Renderer implements receipt.Renderer with go-pdf.
type Renderer struct{}

var _ receipt.Renderer = (*Renderer)(nil)

// NewRenderer creates a receipt renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render draws doc as an A4 page with the access code barcode.
func (r *Renderer) Render(doc *document.Document, company *document.Company) ([]byte, error) {
	if doc.AccessCode == "" {
		return nil, fmt.Errorf("render receipt: document %s has no access code", doc.ID)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetCreationDate(creationDate(doc))
	pdf.SetCatalogSort(true)
	pdf.SetTitle(fmt.Sprintf("%s %s", title(doc.Kind), doc.FullNumber), true)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// Issuer block.
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 7, tr(company.LegalName), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	if company.TradeName != "" {
		pdf.CellFormat(0, lineHeight, tr(company.TradeName), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, lineHeight, tr("Dirección matriz: "+company.MainAddress), "", 1, "L", false, 0, "")
	if company.EstablishmentAddress != "" {
		pdf.CellFormat(0, lineHeight, tr("Dirección establecimiento: "+company.EstablishmentAddress), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, lineHeight, tr("Obligado a llevar contabilidad: "+yesNo(company.ObligatedAccounting)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// Document block.
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("R.U.C.: %s", company.TaxID)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s No. %s", title(doc.Kind), doc.FullNumber)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, lineHeight, tr("Ambiente: "+environmentName(doc.Environment)), "", 1, "L", false, 0, "")
	if doc.AuthorizedAt != nil {
		pdf.CellFormat(0, lineHeight, tr("Fecha y hora de autorización: "+doc.AuthorizedAt.Format("02/01/2006 15:04:05")), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, lineHeight, tr("Número de autorización / clave de acceso:"), "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 9)
	pdf.CellFormat(0, lineHeight, doc.AccessCode, "", 1, "L", false, 0, "")

	if err := drawBarcode(pdf, doc.AccessCode); err != nil {
		return nil, err
	}
	pdf.Ln(3)

	// Buyer block.
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, lineHeight, tr("Razón social / nombres: "+doc.Client.Name), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, lineHeight, tr("Identificación: "+doc.Client.Identification), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, lineHeight, tr("Fecha de emisión: "+doc.IssueDate.Format("02/01/2006")), "", 1, "L", false, 0, "")
	if doc.Kind == document.KindCreditNote && doc.Reference != nil {
		pdf.CellFormat(0, lineHeight, tr(fmt.Sprintf("Comprobante que se modifica: FACTURA %s (%s)", doc.Reference.FullNumber, doc.Reference.IssueDate.Format("02/01/2006"))), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, lineHeight, tr("Razón de modificación: "+doc.Motive), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	drawLines(pdf, tr, doc)
	pdf.Ln(2)
	drawTotals(pdf, tr, doc)

	if info := additionalRows(doc); len(info) > 0 {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(0, lineHeight, tr("Información adicional"), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, row := range info {
			pdf.CellFormat(0, lineHeight, tr(row.Name+": "+row.Value), "", 1, "L", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBarcode(pdf *fpdf.Fpdf, accessCode string) error {
	code, err := code128.Encode(accessCode)
	if err != nil {
		return fmt.Errorf("encode barcode: %w", err)
	}
	scaled, err := barcode.Scale(code, 900, 90)
	if err != nil {
		return fmt.Errorf("scale barcode: %w", err)
	}

	var img bytes.Buffer
	if err := png.Encode(&img, scaled); err != nil {
		return fmt.Errorf("encode barcode image: %w", err)
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(barcodeName, opts, &img)
	pdf.ImageOptions(barcodeName, pdf.GetX(), pdf.GetY()+1, 120, 12, true, opts, 0, "")
	return pdf.Error()
}

var columns = []struct {
	header string
	width  float64
	align  string
}{
	{"Cód.", 22, "L"},
	{"Descripción", 78, "L"},
	{"Cant.", 16, "R"},
	{"P. unitario", 26, "R"},
	{"Descuento", 22, "R"},
	{"Total", 26, "R"},
}

func drawLines(pdf *fpdf.Fpdf, tr func(string) string, doc *document.Document) {
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range columns {
		pdf.CellFormat(c.width, 6, tr(c.header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, l := range doc.Lines {
		values := []string{
			l.Product.Code,
			l.Product.Name,
			fmt.Sprintf("%d", l.Quantity),
			money(l.UnitPrice),
			money(l.Discount),
			money(l.Total),
		}
		for i, c := range columns {
			pdf.CellFormat(c.width, 6, tr(values[i]), "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func drawTotals(pdf *fpdf.Fpdf, tr func(string) string, doc *document.Document) {
	percent := doc.TaxRate.Mul(decimal.NewFromInt(100)).StringFixed(0)
	rows := []struct {
		label string
		value decimal.Decimal
	}{
		{"Subtotal " + percent + "%", doc.SubtotalTaxable},
		{"Subtotal 0%", doc.SubtotalExempt},
		{"Subtotal sin impuestos", doc.Subtotal()},
		{"Total descuento", doc.DiscountTotal},
		{"IVA " + percent + "%", doc.TaxTotal},
		{"Valor total", doc.Total},
	}

	pdf.SetFont("Helvetica", "", 9)
	for i, row := range rows {
		if i == len(rows)-1 {
			pdf.SetFont("Helvetica", "B", 9)
		}
		pdf.CellFormat(140, lineHeight, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(26, lineHeight, tr(row.label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(24, lineHeight, money(row.value), "1", 1, "R", false, 0, "")
	}
}

func additionalRows(doc *document.Document) []document.AdditionalInfo {
	var rows []document.AdditionalInfo
	if doc.Client.Email != "" {
		rows = append(rows, document.AdditionalInfo{Name: "Email", Value: doc.Client.Email})
	}
	if doc.Client.Phone != "" {
		rows = append(rows, document.AdditionalInfo{Name: "Teléfono", Value: doc.Client.Phone})
	}
	return append(rows, doc.AdditionalInfo...)
}

func creationDate(doc *document.Document) time.Time {
	if doc.AuthorizedAt != nil {
		return *doc.AuthorizedAt
	}
	return doc.IssueDate
}

func title(k document.Kind) string {
	if k == document.KindCreditNote {
		return "NOTA DE CRÉDITO"
	}
	return "FACTURA"
}

func environmentName(e document.Environment) string {
	if e == document.EnvironmentProduction {
		return "PRODUCCIÓN"
	}
	return "PRUEBAS"
}

func yesNo(b bool) string {
	if b {
		return "SI"
	}
	return "NO"
}

func money(d decimal.Decimal) string {
	return d.StringFixed(document.MoneyPlaces)
}
