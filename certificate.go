package snsverify

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

// PublicKeyFromPEM parses the first PEM block of data as an X.509
// certificate and returns its RSA public key.
func PublicKeyFromPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.Wrap(ErrCertificateParse, "no PEM block found")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, withKind(ErrCertificateParse, err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedKeyType, "got %T", cert.PublicKey)
	}
	return pub, nil
}
