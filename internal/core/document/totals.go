package document

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimals every amount is rounded to.
const MoneyPlaces = 2

// Tolerance is the largest accepted difference when checking totals.
var Tolerance = decimal.New(1, -MoneyPlaces)

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ComputeLine fills the computed amounts of a line for the given tax rate fraction.
func ComputeLine(l *Line, rate decimal.Decimal) {
	l.Subtotal = round(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
	l.Discount = round(l.Subtotal.Mul(l.DiscountRate))
	l.Total = l.Subtotal.Sub(l.Discount)
	if l.Product.Taxable {
		l.Tax = round(l.Total.Mul(rate))
	} else {
		l.Tax = decimal.Zero
	}
}

// ComputeTotals recomputes every line and the document totals from the lines.
func (d *Document) ComputeTotals() {
	exempt := decimal.Zero
	taxable := decimal.Zero
	discount := decimal.Zero
	tax := decimal.Zero

	for i := range d.Lines {
		line := &d.Lines[i]
		ComputeLine(line, d.TaxRate)
		if line.Product.Taxable {
			taxable = taxable.Add(line.Total)
		} else {
			exempt = exempt.Add(line.Total)
		}
		discount = discount.Add(line.Discount)
		tax = tax.Add(line.Tax)
	}

	d.SubtotalExempt = exempt
	d.SubtotalTaxable = taxable
	d.DiscountTotal = discount
	d.TaxTotal = tax
	d.Total = exempt.Add(taxable).Add(tax)
}

// CheckTotals verifies that sum(line.total) + sum(line.tax) matches the document total
// within Tolerance, and that every line is internally consistent.
func (d *Document) CheckTotals() error {
	lineTotals := decimal.Zero
	lineTaxes := decimal.Zero
	for _, line := range d.Lines {
		if !line.Total.Equal(line.Subtotal.Sub(line.Discount)) {
			return &MalformedDocumentError{
				Field:  fmt.Sprintf("lines[%d].total", line.Position),
				Reason: "total must equal subtotal minus discount",
			}
		}
		lineTotals = lineTotals.Add(line.Total)
		lineTaxes = lineTaxes.Add(line.Tax)
	}

	diff := lineTotals.Add(lineTaxes).Sub(d.Total).Abs()
	if diff.GreaterThan(Tolerance) {
		return &MalformedDocumentError{
			Field:  "total",
			Reason: fmt.Sprintf("lines add up to %s, document says %s", lineTotals.Add(lineTaxes).StringFixed(MoneyPlaces), d.Total.StringFixed(MoneyPlaces)),
		}
	}
	return nil
}
