package sri

import (
	"fmt"
	"hash/fnv"
	"strings"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/sequence"
)

// AccessCodeLength is the number of digits of an access code.
const AccessCodeLength = 49

// AccessCode builds the access code of a document:
//
//	ddmmyyyy | doc code (2) | RUC (13) | environment (1) | estab+point (6) |
//	sequence (9) | numeric code (8) | emission type (1) | check digit (1)
func AccessCode(doc *document.Document, company *document.Company) (string, error) {
	if !doc.Kind.Valid() {
		return "", &document.MalformedDocumentError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", doc.Kind)}
	}
	if !isDigits(company.TaxID, 13) {
		return "", &document.MalformedDocumentError{Field: "company.taxId", Reason: "must be 13 digits"}
	}
	if !isDigits(company.EstablishmentCode, 3) {
		return "", &document.MalformedDocumentError{Field: "company.establishmentCode", Reason: "must be 3 digits"}
	}
	if !isDigits(company.IssuingPointCode, 3) {
		return "", &document.MalformedDocumentError{Field: "company.issuingPointCode", Reason: "must be 3 digits"}
	}
	if doc.Number <= 0 {
		return "", &document.MalformedDocumentError{Field: "number", Reason: "must be positive"}
	}
	if doc.IssueDate.IsZero() {
		return "", &document.MalformedDocumentError{Field: "issueDate"}
	}

	emission := company.EmissionType
	if emission == 0 {
		emission = 1
	}

	var b strings.Builder
	b.Grow(AccessCodeLength)
	b.WriteString(doc.IssueDate.Format("02012006"))
	b.WriteString(doc.Kind.Code())
	b.WriteString(company.TaxID)
	fmt.Fprintf(&b, "%d", int(environmentOf(doc, company)))
	b.WriteString(company.EstablishmentCode)
	b.WriteString(company.IssuingPointCode)
	b.WriteString(sequence.Format(doc.Number))
	b.WriteString(NumericCode(doc.ID))
	fmt.Fprintf(&b, "%d", emission)

	base := b.String()
	return base + fmt.Sprint(CheckDigit(base)), nil
}

// NumericCode derives the 8-digit security code from the document id.
func NumericCode(documentID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(documentID))
	return fmt.Sprintf("%08d", h.Sum32()%100000000)
}

// CheckDigit computes the modulo-11 check digit with weights 2..7 applied from the right.
func CheckDigit(digits string) int {
	sum := 0
	weight := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}

	check := 11 - sum%11
	switch check {
	case 11:
		return 0
	case 10:
		return 1
	default:
		return check
	}
}

// ValidAccessCode reports whether code has 49 digits and a correct check digit.
func ValidAccessCode(code string) bool {
	if !isDigits(code, AccessCodeLength) {
		return false
	}
	return CheckDigit(code[:AccessCodeLength-1]) == int(code[AccessCodeLength-1]-'0')
}

func environmentOf(doc *document.Document, company *document.Company) document.Environment {
	if doc.Environment != 0 {
		return doc.Environment
	}
	return company.Environment
}

func isDigits(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
