package snsverify

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"

	"github.com/pkg/errors"
)

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithCertificateFetcher sets how certificates are obtained when the caller
// does not supply one.
func WithCertificateFetcher(f CertificateFetcher) VerifierOption {
	return func(v *Verifier) {
		v.fetcher = f
	}
}

// Verifier checks message signatures. It holds no state besides its fetcher
// and is safe for concurrent use.
type Verifier struct {
	fetcher CertificateFetcher
}

// New returns a Verifier. Without WithCertificateFetcher it fetches
// certificates with NewHTTPFetcher and applies no host restriction.
func New(opts ...VerifierOption) *Verifier {
	v := &Verifier{}
	for _, opt := range opts {
		opt(v)
	}
	if v.fetcher == nil {
		v.fetcher = NewHTTPFetcher()
	}
	return v
}

// Verify reports whether the notification m was signed by the key in cert,
// or, when cert is nil, by the key in the certificate at m's SigningCertURL.
// A well-formed message whose signature does not match yields false with a
// nil error; every other failure is an error and must be treated as
// unverified.
func Verify(ctx context.Context, m Message, cert []byte) (bool, error) {
	return New().Verify(ctx, m, cert)
}

func (v *Verifier) Verify(ctx context.Context, m Message, cert []byte) (bool, error) {
	return v.verify(ctx, m, cert, BuildSignString)
}

// VerifyEnvelope is Verify for any message type: confirmations are checked
// against their own canonical form (see SigningStringFor).
func (v *Verifier) VerifyEnvelope(ctx context.Context, m Message, cert []byte) (bool, error) {
	return v.verify(ctx, m, cert, SigningStringFor)
}

func (v *Verifier) verify(ctx context.Context, m Message, cert []byte, canonical func(Message) ([]byte, error)) (bool, error) {
	encoded, ok := m.Field("Signature")
	if !ok {
		return false, missingField("Signature")
	}
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, withKind(ErrInvalidEncoding, err)
	}

	signed, err := canonical(m)
	if err != nil {
		return false, err
	}

	hash, err := signatureHash(m)
	if err != nil {
		return false, err
	}

	pub, err := v.publicKey(ctx, m, cert)
	if err != nil {
		return false, err
	}

	sum := digest(hash, signed)
	return rsa.VerifyPKCS1v15(pub, hash, sum, signature) == nil, nil
}

// publicKey prefers the caller's certificate and only falls back to the
// fetcher when none was given.
func (v *Verifier) publicKey(ctx context.Context, m Message, cert []byte) (*rsa.PublicKey, error) {
	if cert != nil {
		return PublicKeyFromPEM(cert)
	}

	certURL, ok := m.Field("SigningCertURL")
	if !ok {
		return nil, missingField("SigningCertURL")
	}
	fetched, err := v.fetcher.FetchCertificate(ctx, certURL)
	if err != nil {
		return nil, withKind(ErrCertificateFetch, err)
	}
	return PublicKeyFromPEM(fetched)
}

// signatureHash maps SignatureVersion to the digest the signer used. A
// message without a version is treated as version 1.
func signatureHash(m Message) (crypto.Hash, error) {
	version, ok := m.Field("SignatureVersion")
	if !ok {
		return crypto.SHA1, nil
	}
	switch version {
	case "1":
		return crypto.SHA1, nil
	case "2":
		return crypto.SHA256, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedSignatureVersion, "%q", version)
	}
}

func digest(hash crypto.Hash, data []byte) []byte {
	if hash == crypto.SHA256 {
		sum := sha256.Sum256(data)
		return sum[:]
	}
	sum := sha1.Sum(data)
	return sum[:]
}
