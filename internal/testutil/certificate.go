package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// CertificateBundle is a self-signed signing certificate packed as PKCS#12.
type CertificateBundle struct {
	PFX         []byte
	Passphrase  string
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
}

// NewCertificateBundle creates a bundle valid between notBefore and notAfter.
func NewCertificateBundle(t testing.TB, passphrase string, notBefore, notAfter time.Time) *CertificateBundle {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(20250115),
		Subject: pkix.Name{
			CommonName:   "COMERCIAL ANDINA S.A.",
			SerialNumber: "1790012345001",
			Country:      []string{"EC"},
		},
		Issuer:      pkix.Name{CommonName: "Test Signing Authority", Country: []string{"EC"}},
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	if err != nil {
		t.Fatalf("encode pkcs12: %v", err)
	}

	return &CertificateBundle{PFX: pfx, Passphrase: passphrase, Certificate: cert, Key: key}
}

// NewValidCertificateBundle creates a bundle valid for a year around now.
func NewValidCertificateBundle(t testing.TB) *CertificateBundle {
	t.Helper()
	now := time.Now()
	return NewCertificateBundle(t, "s3cret", now.AddDate(0, -6, 0), now.AddDate(0, 6, 0))
}
