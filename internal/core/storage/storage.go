package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

const (
	ContentTypeXML = "application/xml"
	ContentTypePDF = "application/pdf"
)

// BlobStore persists issuance artifacts.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// URL returns a time-limited download link for key.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SignedXMLKey returns the key of a signed document: <tenant>/<kind>/<access-code>.xml.
func SignedXMLKey(tenantID, kind, accessCode string) string {
	return fmt.Sprintf("%s/%s/%s.xml", tenantID, kind, accessCode)
}

// ReceiptKey returns the key of a printable receipt: <tenant>/<kind>/<access-code>.pdf.
func ReceiptKey(tenantID, kind, accessCode string) string {
	return fmt.Sprintf("%s/%s/%s.pdf", tenantID, kind, accessCode)
}
