package snsverify_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/kenjenkins/snsverify"
	"github.com/kenjenkins/snsverify/snstest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var errFetcherCalled = errors.New("fetcher must not be called")

func failingFetcher() snsverify.CertificateFetcher {
	return snsverify.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, errFetcherCalled
	})
}

func newSigner(t *testing.T) *snstest.Signer {
	t.Helper()
	signer, err := snstest.NewSigner()
	require.NoError(t, err)
	return signer
}

func sign(t *testing.T, signer *snstest.Signer, m snsverify.Message) snsverify.Message {
	t.Helper()
	signed, err := signer.Sign(m)
	require.NoError(t, err)
	return signed
}

func notification() snsverify.Message {
	return snsverify.Message{
		"Message":        "Hello",
		"MessageId":      "12345",
		"Timestamp":      "2016-01-20T14:37:01Z",
		"TopicArn":       "xyz123",
		"Type":           "Notification",
		"SigningCertURL": "https://sns.us-east-1.amazonaws.com/cert.pem",
	}
}

func flip(s string) string {
	b := []byte(s)
	b[0] ^= 0x01
	return string(b)
}

func TestVerifyRoundTrip(t *testing.T) {
	signer := newSigner(t)
	v := snsverify.New(snsverify.WithCertificateFetcher(failingFetcher()))

	m := sign(t, signer, notification())
	ok, err := v.Verify(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.True(t, ok)

	withSubject := notification()
	withSubject["Subject"] = "greeting"
	m = sign(t, signer, withSubject)
	ok, err = v.Verify(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDoesNotMutateMessage(t *testing.T) {
	signer := newSigner(t)
	m := sign(t, signer, notification())
	before := make(snsverify.Message, len(m))
	for k, v := range m {
		before[k] = v
	}

	_, err := snsverify.Verify(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.Equal(t, before, m)
}

func TestVerifyTampered(t *testing.T) {
	signer := newSigner(t)
	v := snsverify.New(snsverify.WithCertificateFetcher(failingFetcher()))

	m := notification()
	m["Subject"] = "greeting"
	signed := sign(t, signer, m)

	for _, field := range []string{"Message", "MessageId", "Subject", "Timestamp", "TopicArn", "Type"} {
		t.Run(field, func(t *testing.T) {
			tampered := make(snsverify.Message, len(signed))
			for k, v := range signed {
				tampered[k] = v
			}
			tampered[field] = flip(tampered[field])

			ok, err := v.Verify(context.Background(), tampered, signer.CertificatePEM())
			require.NoError(t, err)
			require.False(t, ok)
		})
	}

	t.Run("dropped subject", func(t *testing.T) {
		tampered := make(snsverify.Message, len(signed))
		for k, v := range signed {
			tampered[k] = v
		}
		delete(tampered, "Subject")

		ok, err := v.Verify(context.Background(), tampered, signer.CertificatePEM())
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestVerifyWrongKey(t *testing.T) {
	signer := newSigner(t)
	other := newSigner(t)

	m := sign(t, signer, notification())
	ok, err := snsverify.Verify(context.Background(), m, other.CertificatePEM())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyMissingField(t *testing.T) {
	signer := newSigner(t)
	m := sign(t, signer, notification())
	delete(m, "TopicArn")

	ok, err := snsverify.Verify(context.Background(), m, signer.CertificatePEM())
	require.ErrorIs(t, err, snsverify.ErrMissingField)
	require.False(t, ok)

	var mf *snsverify.MissingFieldError
	require.True(t, errors.As(err, &mf))
	require.Equal(t, "TopicArn", mf.Field)
}

func TestVerifyMissingSignature(t *testing.T) {
	signer := newSigner(t)
	_, err := snsverify.Verify(context.Background(), notification(), signer.CertificatePEM())

	var mf *snsverify.MissingFieldError
	require.True(t, errors.As(err, &mf))
	require.Equal(t, "Signature", mf.Field)
}

func TestVerifyInvalidEncoding(t *testing.T) {
	signer := newSigner(t)
	m := sign(t, signer, notification())
	m["Signature"] = "not base64!!"

	ok, err := snsverify.Verify(context.Background(), m, signer.CertificatePEM())
	require.ErrorIs(t, err, snsverify.ErrInvalidEncoding)
	require.False(t, ok)
}

func TestVerifyCertificatePrecedence(t *testing.T) {
	signer := newSigner(t)
	v := snsverify.New(snsverify.WithCertificateFetcher(failingFetcher()))

	m := sign(t, signer, notification())
	ok, err := v.Verify(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = v.Verify(context.Background(), m, nil)
	require.ErrorIs(t, err, snsverify.ErrCertificateFetch)
	require.ErrorIs(t, err, errFetcherCalled)
}

func TestVerifyFetchesCertificate(t *testing.T) {
	signer := newSigner(t)
	server := signer.CertificateServer()
	t.Cleanup(server.Close)

	m := notification()
	m["SigningCertURL"] = server.URL + "/SimpleNotificationService.pem"
	m = sign(t, signer, m)

	ok, err := snsverify.Verify(context.Background(), m, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyFetchedCertificateUnparsable(t *testing.T) {
	signer := newSigner(t)
	v := snsverify.New(snsverify.WithCertificateFetcher(snsverify.FetcherFunc(
		func(ctx context.Context, url string) ([]byte, error) {
			return []byte("<html>not found</html>"), nil
		})))

	m := sign(t, signer, notification())
	_, err := v.Verify(context.Background(), m, nil)
	require.ErrorIs(t, err, snsverify.ErrCertificateParse)
}

func TestVerifyMissingCertURL(t *testing.T) {
	signer := newSigner(t)
	v := snsverify.New(snsverify.WithCertificateFetcher(failingFetcher()))

	m := notification()
	delete(m, "SigningCertURL")
	m = sign(t, signer, m)

	_, err := v.Verify(context.Background(), m, nil)
	var mf *snsverify.MissingFieldError
	require.True(t, errors.As(err, &mf))
	require.Equal(t, "SigningCertURL", mf.Field)
}

func TestVerifySignatureVersions(t *testing.T) {
	signer := newSigner(t)

	for _, version := range []string{"1", "2"} {
		t.Run(version, func(t *testing.T) {
			m := notification()
			m["SignatureVersion"] = version
			m = sign(t, signer, m)

			ok, err := snsverify.Verify(context.Background(), m, signer.CertificatePEM())
			require.NoError(t, err)
			require.True(t, ok)
		})
	}

	t.Run("downgrade", func(t *testing.T) {
		m := notification()
		m["SignatureVersion"] = "2"
		m = sign(t, signer, m)
		m["SignatureVersion"] = "1"

		ok, err := snsverify.Verify(context.Background(), m, signer.CertificatePEM())
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("unsupported", func(t *testing.T) {
		m := sign(t, signer, notification())
		m["SignatureVersion"] = "3"

		_, err := snsverify.Verify(context.Background(), m, signer.CertificatePEM())
		require.ErrorIs(t, err, snsverify.ErrUnsupportedSignatureVersion)
	})
}

func TestVerifyEnvelopeConfirmation(t *testing.T) {
	signer := newSigner(t)
	m := sign(t, signer, snsverify.Message{
		"Message":      "You have chosen to subscribe",
		"MessageId":    "165545c9",
		"SubscribeURL": "https://sns.us-west-2.amazonaws.com/?Action=ConfirmSubscription",
		"Timestamp":    "2012-04-26T20:45:04.751Z",
		"Token":        "2336412f37",
		"TopicArn":     "arn:aws:sns:us-west-2:123456789012:MyTopic",
		"Type":         snsverify.TypeSubscriptionConfirmation,
	})

	v := snsverify.New(snsverify.WithCertificateFetcher(failingFetcher()))
	ok, err := v.VerifyEnvelope(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Verify(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyConcurrent(t *testing.T) {
	signer := newSigner(t)
	v := snsverify.New(snsverify.WithCertificateFetcher(snsverify.FetcherFunc(
		func(ctx context.Context, url string) ([]byte, error) {
			return signer.CertificatePEM(), nil
		})))
	m := sign(t, signer, notification())

	var wg sync.WaitGroup
	results := make([]bool, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.Verify(context.Background(), m, nil)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.True(t, results[i])
	}
}

func TestVerifyDecodedNotificationEmptySubject(t *testing.T) {
	signer := newSigner(t)
	m := notification()
	m["Subject"] = ""
	m = sign(t, signer, m)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var n snsverify.Notification
	require.NoError(t, json.Unmarshal(data, &n))

	ok, err := snsverify.Verify(context.Background(), n.Fields(), signer.CertificatePEM())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = snsverify.Verify(context.Background(), m, signer.CertificatePEM())
	require.NoError(t, err)
	require.True(t, ok)
}
