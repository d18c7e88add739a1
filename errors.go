package snsverify

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned by the verification pipeline. Test for them with
// errors.Is; the underlying cause, when there is one, stays reachable through
// errors.As.
//
// A signature that decodes but does not match is not an error: Verify reports
// it as false.
var (
	ErrMissingField                = errors.New("missing field")
	ErrInvalidEncoding             = errors.New("invalid signature encoding")
	ErrCertificateFetch            = errors.New("certificate fetch failed")
	ErrCertificateParse            = errors.New("certificate parse failed")
	ErrUnsupportedKeyType          = errors.New("unsupported certificate key type")
	ErrUnsupportedSignatureVersion = errors.New("unsupported signature version")
	ErrMalformedMessage            = errors.New("malformed message")
	ErrUntrustedCertURL            = errors.New("untrusted certificate URL")
)

// MissingFieldError names the message field that was required but absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

func missingField(name string) error {
	return &MissingFieldError{Field: name}
}

// kindError tags a cause with one of the sentinel kinds above.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

func withKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &kindError{kind: kind, cause: cause}
}
