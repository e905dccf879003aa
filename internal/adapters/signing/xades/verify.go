package xades

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"3tcapital/ms_emision_electronica/internal/core/signing"

	"github.com/beevik/etree"
)

// Verify checks every reference digest of the enveloped signature in signed and the
// RSA-SHA256 signature value against cert.
func Verify(signed []byte, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return &signing.InvalidSignatureError{Reason: fmt.Sprintf("unsupported public key %T", cert.PublicKey)}
	}

	root, sig, err := signatureOf(signed)
	if err != nil {
		return err
	}

	signedInfo := sig.SelectElement("ds:SignedInfo")
	if signedInfo == nil {
		return &signing.InvalidSignatureError{Reason: "missing SignedInfo"}
	}

	refs := signedInfo.SelectElements("ds:Reference")
	if len(refs) == 0 {
		return &signing.InvalidSignatureError{Reason: "no references"}
	}

	coversDocument := false
	for _, ref := range refs {
		uri := ref.SelectAttrValue("URI", "")
		value := ref.SelectElement("ds:DigestValue")
		if value == nil {
			return &signing.InvalidSignatureError{Reason: "missing digest for " + uri}
		}

		var got string
		if uri == rootRef {
			if root.SelectAttrValue("id", "") != rootID {
				return &signing.InvalidSignatureError{Reason: "document root is not " + rootRef}
			}
			coversDocument = true
			got, err = documentDigest(root)
		} else {
			target := elementByID(sig, strings.TrimPrefix(uri, "#"))
			if target == nil {
				return &signing.InvalidSignatureError{Reason: "unknown reference " + uri}
			}
			got, err = elementDigest(target)
		}
		if err != nil {
			return err
		}
		if got != strings.TrimSpace(value.Text()) {
			return &signing.InvalidSignatureError{Reason: fmt.Sprintf("digest mismatch for %s", uri)}
		}
	}
	if !coversDocument {
		return &signing.InvalidSignatureError{Reason: "signature does not reference the document"}
	}

	sigValue := sig.SelectElement("ds:SignatureValue")
	if sigValue == nil {
		return &signing.InvalidSignatureError{Reason: "missing signature value"}
	}
	value, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(sigValue.Text()), ""))
	if err != nil {
		return &signing.InvalidSignatureError{Reason: "signature value is not base64"}
	}

	c14n, err := canonical(signedInfo)
	if err != nil {
		return err
	}
	hashed := sha256.Sum256(c14n)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], value); err != nil {
		return &signing.InvalidSignatureError{Reason: "signature value does not match"}
	}
	return nil
}

// EmbeddedCertificate returns the certificate carried in the signature's KeyInfo.
func EmbeddedCertificate(signed []byte) (*x509.Certificate, error) {
	_, sig, err := signatureOf(signed)
	if err != nil {
		return nil, err
	}
	el := sig.FindElement("ds:KeyInfo/ds:X509Data/ds:X509Certificate")
	if el == nil {
		return nil, &signing.InvalidSignatureError{Reason: "missing certificate"}
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(el.Text()), ""))
	if err != nil {
		return nil, &signing.InvalidSignatureError{Reason: "certificate is not base64"}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse embedded certificate: %w", err)
	}
	return cert, nil
}

// signatureOf parses signed and returns its root and the enveloped Signature element.
func signatureOf(signed []byte) (*etree.Element, *etree.Element, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(signed); err != nil {
		return nil, nil, &signing.InvalidSignatureError{Reason: "document is not well-formed XML"}
	}
	root := tree.Root()
	if root == nil {
		return nil, nil, &signing.InvalidSignatureError{Reason: "document has no root element"}
	}
	sig := root.SelectElement("ds:Signature")
	if sig == nil {
		return nil, nil, &signing.InvalidSignatureError{Reason: "document is not signed"}
	}
	return root, sig, nil
}

// elementByID returns the element under el whose Id attribute equals id.
func elementByID(el *etree.Element, id string) *etree.Element {
	if el.SelectAttrValue("Id", "") == id {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := elementByID(child, id); found != nil {
			return found
		}
	}
	return nil
}
