package snsverify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// DefaultCertHostPattern matches the hosts SNS serves signing certificates
// from.
const DefaultCertHostPattern = `^sns\.[a-zA-Z0-9\-]{3,}\.amazonaws\.com(\.cn)?$`

const defaultMaxCertificateSize = 64 << 10

// CertificateFetcher retrieves the PEM certificate published at a URL.
// Retries, TLS policy and timeouts are up to the implementation.
type CertificateFetcher interface {
	FetchCertificate(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to a CertificateFetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) FetchCertificate(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// StatusError is returned by HTTPFetcher when the certificate host answers
// with anything but 200 OK.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the client used for certificate requests.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithFetchLogger sets the logger fetches are reported to.
func WithFetchLogger(log *logrus.Entry) FetcherOption {
	return func(f *HTTPFetcher) {
		f.log = log
	}
}

// WithMaxCertificateSize caps the number of body bytes read per fetch.
func WithMaxCertificateSize(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxSize = n
	}
}

// HTTPFetcher fetches certificates with a plain GET.
type HTTPFetcher struct {
	client  *http.Client
	log     *logrus.Entry
	maxSize int64
}

func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.log == nil {
		f.log = discardLogger()
	}
	if f.maxSize <= 0 {
		f.maxSize = defaultMaxCertificateSize
	}
	return f
}

func (f *HTTPFetcher) FetchCertificate(ctx context.Context, certURL string) (body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating certificate request")
	}

	f.log.WithField("url", certURL).Debug("fetching signing certificate")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "requesting certificate")
	}
	defer func() {
		err = multierr.Append(err, resp.Body.Close())
	}()

	if resp.StatusCode != http.StatusOK {
		f.log.WithFields(logrus.Fields{
			"url":    certURL,
			"status": resp.StatusCode,
		}).Warn("certificate host returned an error status")
		return nil, &StatusError{URL: certURL, StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading certificate body")
	}
	if int64(len(body)) > f.maxSize {
		return nil, errors.Errorf("certificate body exceeds %d bytes", f.maxSize)
	}
	return body, nil
}

// RestrictCertHost wraps next so that only URLs whose host matches
// hostPattern, and whose scheme is https when requireTLS is set, are fetched.
func RestrictCertHost(next CertificateFetcher, requireTLS bool, hostPattern *regexp.Regexp) CertificateFetcher {
	return FetcherFunc(func(ctx context.Context, certURL string) ([]byte, error) {
		if err := checkCertURL(certURL, requireTLS, hostPattern); err != nil {
			return nil, err
		}
		return next.FetchCertificate(ctx, certURL)
	})
}

func checkCertURL(certURL string, requireTLS bool, hostPattern *regexp.Regexp) error {
	u, err := url.Parse(certURL)
	if err != nil {
		return withKind(ErrUntrustedCertURL, err)
	}
	if requireTLS && u.Scheme != "https" {
		return errors.Wrap(ErrUntrustedCertURL, "certificate URL is not using https")
	}
	if hostPattern != nil && !hostPattern.MatchString(u.Hostname()) {
		return errors.Wrapf(ErrUntrustedCertURL, "certificate host %q is not allowed", u.Hostname())
	}
	return nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
