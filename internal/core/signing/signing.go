package signing

import (
	"context"
	"fmt"
	"time"
)

// Signer produces an enveloped signature over a built document.
type Signer interface {
	// Sign returns the signed document. The certificate is a PKCS#12 bundle.
	Sign(ctx context.Context, doc []byte, certificate []byte, passphrase string) ([]byte, error)
}

// InvalidCredentialsError means the certificate bundle could not be opened.
type InvalidCredentialsError struct {
	Err error
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid signing credentials: %v", e.Err)
}

func (e *InvalidCredentialsError) Unwrap() error {
	return e.Err
}

// CertificateExpiredError means the certificate is outside its validity window.
type CertificateExpiredError struct {
	NotBefore time.Time
	NotAfter  time.Time
	At        time.Time
}

func (e *CertificateExpiredError) Error() string {
	return fmt.Sprintf("certificate not valid at %s (valid %s to %s)",
		e.At.Format(time.RFC3339), e.NotBefore.Format(time.RFC3339), e.NotAfter.Format(time.RFC3339))
}

// InvalidSignatureError is returned by verification when a digest or the signature
// value does not match.
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return "invalid signature: " + e.Reason
}
