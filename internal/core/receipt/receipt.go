package receipt

import "3tcapital/ms_emision_electronica/internal/core/document"

// Renderer produces the printable representation of an authorized document.
type Renderer interface {
	Render(doc *document.Document, company *document.Company) ([]byte, error)
}
