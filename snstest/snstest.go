// Package snstest signs messages the way SNS does, for use in tests of code
// that receives them.
package snstest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/kenjenkins/snsverify"
	"github.com/pkg/errors"
)

// Signer holds an RSA key and a self-signed certificate for it.
type Signer struct {
	Key     *rsa.PrivateKey
	certPEM []byte
}

// NewSigner generates a 2048-bit key and a certificate valid for a day.
func NewSigner() (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sns.us-east-1.amazonaws.com"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "creating certificate")
	}

	return &Signer{
		Key:     key,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

// CertificatePEM returns the PEM encoded certificate.
func (s *Signer) CertificatePEM() []byte {
	return append([]byte(nil), s.certPEM...)
}

// Sign returns a copy of m with Signature set. The digest follows
// SignatureVersion: SHA-256 for "2", SHA-1 otherwise.
func (s *Signer) Sign(m snsverify.Message) (snsverify.Message, error) {
	signed, err := snsverify.SigningStringFor(m)
	if err != nil {
		return nil, err
	}

	hash := crypto.SHA1
	var digest []byte
	if m["SignatureVersion"] == "2" {
		hash = crypto.SHA256
		sum := sha256.Sum256(signed)
		digest = sum[:]
	} else {
		sum := sha1.Sum(signed)
		digest = sum[:]
	}

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.Key, hash, digest)
	if err != nil {
		return nil, errors.Wrap(err, "signing")
	}

	out := make(snsverify.Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["Signature"] = base64.StdEncoding.EncodeToString(sig)
	return out, nil
}

// CertificateServer serves the certificate at every path. The caller closes
// it.
func (s *Signer) CertificateServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write(s.certPEM)
	}))
}
