// Package xades signs built documents with an enveloped XAdES-BES signature using a
// PKCS#12 certificate bundle.
package xades

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/signing"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	nsDS    = "http://www.w3.org/2000/09/xmldsig#"
	nsETSI  = "http://uri.etsi.org/01903/v1.3.2#"
	algC14N = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	algRSA  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algSHA  = "http://www.w3.org/2001/04/xmlenc#sha256"
	algEnv  = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	// The document root carries this id and is the target of the document reference.
	rootID  = "comprobante"
	rootRef = "#" + rootID
)

// canonicalizer matches algC14N: inclusive, without comments.
var canonicalizer = dsig.MakeC14N10RecCanonicalizer()

// Signer implements signing.Signer.
type Signer struct {
	now func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock sets the clock used for the signing time and the validity check.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a signer.
func NewSigner(opts ...Option) *Signer {
	s := &Signer{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ signing.Signer = (*Signer)(nil)

// Sign opens the PKCS#12 bundle and returns doc with an enveloped signature appended
// to its root element.
func (s *Signer) Sign(ctx context.Context, doc []byte, certificate []byte, passphrase string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, cert, err := OpenBundle(certificate, passphrase)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, &signing.CertificateExpiredError{NotBefore: cert.NotBefore, NotAfter: cert.NotAfter, At: now}
	}

	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(doc); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	root := tree.Root()
	if root == nil {
		return nil, errors.New("sign document: no root element")
	}

	accessCode := root.FindElement("infoTributaria/claveAcceso")
	if accessCode == nil || strings.TrimSpace(accessCode.Text()) == "" {
		return nil, errors.New("read document: missing access code")
	}

	if err := appendSignature(root, strings.TrimSpace(accessCode.Text()), key, cert, now); err != nil {
		return nil, err
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	out.SetRoot(root)
	signed, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("write signed document: %w", err)
	}
	return signed, nil
}

// OpenBundle decodes a PKCS#12 bundle into its RSA key and leaf certificate.
func OpenBundle(bundle []byte, passphrase string) (*rsa.PrivateKey, *x509.Certificate, error) {
	if len(bundle) == 0 {
		return nil, nil, &signing.InvalidCredentialsError{Err: errors.New("empty certificate bundle")}
	}

	priv, cert, _, err := pkcs12.DecodeChain(bundle, passphrase)
	if err != nil {
		return nil, nil, &signing.InvalidCredentialsError{Err: err}
	}

	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, &signing.InvalidCredentialsError{Err: fmt.Errorf("unsupported key type %T", priv)}
	}
	return key, cert, nil
}

// appendSignature adds the Signature element as the last child of root. Every digest and the
// signature value are taken over the C14N form of the element as it sits in the final tree.
func appendSignature(root *etree.Element, id string, key *rsa.PrivateKey, cert *x509.Certificate, at time.Time) error {
	sigID := "Signature" + id
	propsID := sigID + "-SignedProperties"
	certID := "Certificate" + id
	refID := "Reference-ID-" + id

	docDigest, err := documentDigest(root)
	if err != nil {
		return err
	}

	sig := root.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", nsDS)
	sig.CreateAttr("xmlns:etsi", nsETSI)
	sig.CreateAttr("Id", sigID)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("Id", "Signature-SignedInfo"+id)
	withAlgorithm(signedInfo, "ds:CanonicalizationMethod", algC14N)
	withAlgorithm(signedInfo, "ds:SignatureMethod", algRSA)

	propsRef := signedInfo.CreateElement("ds:Reference")
	propsRef.CreateAttr("Id", "SignedPropertiesID"+id)
	propsRef.CreateAttr("Type", "http://uri.etsi.org/01903#SignedProperties")
	propsRef.CreateAttr("URI", "#"+propsID)
	propsDigest := digestValue(propsRef)

	certRef := signedInfo.CreateElement("ds:Reference")
	certRef.CreateAttr("URI", "#"+certID)
	certDigest := digestValue(certRef)

	docRef := signedInfo.CreateElement("ds:Reference")
	docRef.CreateAttr("Id", refID)
	docRef.CreateAttr("URI", rootRef)
	withAlgorithm(docRef.CreateElement("ds:Transforms"), "ds:Transform", algEnv)
	digestValue(docRef).SetText(docDigest)

	sigValue := sig.CreateElement("ds:SignatureValue")
	sigValue.CreateAttr("Id", "SignatureValue"+id)

	info := keyInfo(sig, certID, cert, key)

	object := sig.CreateElement("ds:Object")
	object.CreateAttr("Id", sigID+"-Object"+id)
	qualifying := object.CreateElement("etsi:QualifyingProperties")
	qualifying.CreateAttr("Target", "#"+sigID)
	props := signedProperties(qualifying, propsID, refID, cert, at)

	for _, ref := range []struct {
		target *etree.Element
		value  *etree.Element
	}{
		{props, propsDigest},
		{info, certDigest},
	} {
		d, err := elementDigest(ref.target)
		if err != nil {
			return err
		}
		ref.value.SetText(d)
	}

	c14n, err := canonical(signedInfo)
	if err != nil {
		return err
	}
	hashed := sha256.Sum256(c14n)
	value, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("sign document: %w", err)
	}
	sigValue.SetText(base64.StdEncoding.EncodeToString(value))
	return nil
}

func signedProperties(parent *etree.Element, id, refID string, cert *x509.Certificate, at time.Time) *etree.Element {
	props := parent.CreateElement("etsi:SignedProperties")
	props.CreateAttr("Id", id)

	sigProps := props.CreateElement("etsi:SignedSignatureProperties")
	sigProps.CreateElement("etsi:SigningTime").SetText(at.Format(time.RFC3339))
	certEl := sigProps.CreateElement("etsi:SigningCertificate").CreateElement("etsi:Cert")
	certDigest := certEl.CreateElement("etsi:CertDigest")
	withAlgorithm(certDigest, "ds:DigestMethod", algSHA)
	certDigest.CreateElement("ds:DigestValue").SetText(digest(cert.Raw))
	issuerSerial := certEl.CreateElement("etsi:IssuerSerial")
	issuerSerial.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
	issuerSerial.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())

	format := props.CreateElement("etsi:SignedDataObjectProperties").CreateElement("etsi:DataObjectFormat")
	format.CreateAttr("ObjectReference", "#"+refID)
	format.CreateElement("etsi:Description").SetText("contenido comprobante")
	format.CreateElement("etsi:MimeType").SetText("text/xml")
	return props
}

func keyInfo(parent *etree.Element, id string, cert *x509.Certificate, key *rsa.PrivateKey) *etree.Element {
	info := parent.CreateElement("ds:KeyInfo")
	info.CreateAttr("Id", id)
	info.CreateElement("ds:X509Data").CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	rsaKey := info.CreateElement("ds:KeyValue").CreateElement("ds:RSAKeyValue")
	rsaKey.CreateElement("ds:Modulus").SetText(base64.StdEncoding.EncodeToString(key.N.Bytes()))
	rsaKey.CreateElement("ds:Exponent").SetText(base64.StdEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()))
	return info
}

func withAlgorithm(parent *etree.Element, tag, algorithm string) *etree.Element {
	el := parent.CreateElement(tag)
	el.CreateAttr("Algorithm", algorithm)
	return el
}

// digestValue adds DigestMethod and an empty DigestValue to a Reference.
func digestValue(ref *etree.Element) *etree.Element {
	withAlgorithm(ref, "ds:DigestMethod", algSHA)
	return ref.CreateElement("ds:DigestValue")
}

// documentDigest digests root after the enveloped-signature transform.
func documentDigest(root *etree.Element) (string, error) {
	unsigned := root.Copy()
	for _, sig := range unsigned.SelectElements("ds:Signature") {
		unsigned.RemoveChild(sig)
	}
	c14n, err := canonicalizer.Canonicalize(unsigned)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}
	return digest(c14n), nil
}

func elementDigest(el *etree.Element) (string, error) {
	c14n, err := canonical(el)
	if err != nil {
		return "", err
	}
	return digest(c14n), nil
}

// canonical renders el in C14N form as a subset of its document: the namespace declarations
// in scope from its ancestors are rendered on the apex element.
func canonical(el *etree.Element) ([]byte, error) {
	apex := el.Copy()
	declared := make(map[string]bool)
	for _, a := range apex.Attr {
		if name, ok := namespaceDecl(a); ok {
			declared[name] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			name, ok := namespaceDecl(a)
			if !ok || declared[name] {
				continue
			}
			declared[name] = true
			apex.CreateAttr(name, a.Value)
		}
	}

	c14n, err := canonicalizer.Canonicalize(apex)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s: %w", el.FullTag(), err)
	}
	return c14n, nil
}

// namespaceDecl reports whether a declares a namespace and returns its attribute name.
func namespaceDecl(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "xmlns":
		return "xmlns:" + a.Key, true
	case a.Space == "" && a.Key == "xmlns":
		return "xmlns", true
	}
	return "", false
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
