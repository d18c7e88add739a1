package snsverify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const maxBodySize = 256 << 10

// MessageTypeHeader is set by SNS on every delivery.
const MessageTypeHeader = "x-amz-sns-message-type"

// EventHandler receives messages that passed signature verification.
type EventHandler interface {
	Notification(ctx context.Context, n *Notification) error
	SubscriptionConfirmation(ctx context.Context, c *SubscriptionConfirmation) error
	UnsubscribeConfirmation(ctx context.Context, c *UnsubscribeConfirmation) error
}

// DefaultHandler accepts every message and does nothing. Embed it to
// implement only the events you care about.
type DefaultHandler struct{}

func (DefaultHandler) Notification(context.Context, *Notification) error { return nil }

func (DefaultHandler) SubscriptionConfirmation(context.Context, *SubscriptionConfirmation) error {
	return nil
}

func (DefaultHandler) UnsubscribeConfirmation(context.Context, *UnsubscribeConfirmation) error {
	return nil
}

type Option interface {
	apply(*handler)
}

type optionFunc func(*handler)

func (f optionFunc) apply(h *handler) { f(h) }

// WithVerifier replaces the handler's verifier.
func WithVerifier(v *Verifier) Option {
	return optionFunc(func(h *handler) {
		h.verifier = v
	})
}

// WithLogger sets the logger rejected and accepted deliveries are reported to.
func WithLogger(log *logrus.Entry) Option {
	return optionFunc(func(h *handler) {
		h.log = log
	})
}

type verifierOption struct {
	requireTLS bool
	certHost   string
}

// WithCustomVerifier changes which certificate URLs the handler is willing
// to fetch. An empty certHost keeps DefaultCertHostPattern. It has no effect
// together with WithVerifier.
func WithCustomVerifier(requireTLS bool, certHost string) Option {
	return &verifierOption{
		requireTLS: requireTLS,
		certHost:   certHost,
	}
}

func (opt *verifierOption) apply(h *handler) {
	h.requireTLS = opt.requireTLS

	if len(opt.certHost) > 0 {
		h.certHostPattern = regexp.MustCompile(opt.certHost)
	}
}

type handler struct {
	events   EventHandler
	verifier *Verifier
	log      *logrus.Entry

	requireTLS      bool
	certHostPattern *regexp.Regexp
}

// NewHandler returns an http.Handler that verifies each delivered message and
// passes it to events. Unless configured otherwise, certificates are only
// fetched over https from SNS hosts.
func NewHandler(events EventHandler, opts ...Option) http.Handler {
	h := &handler{
		events:          events,
		log:             discardLogger(),
		requireTLS:      true,
		certHostPattern: regexp.MustCompile(DefaultCertHostPattern),
	}
	for _, opt := range opts {
		opt.apply(h)
	}
	if h.verifier == nil {
		fetcher := NewHTTPFetcher(WithFetchLogger(h.log))
		h.verifier = New(WithCertificateFetcher(
			RestrictCertHost(fetcher, h.requireTLS, h.certHostPattern)))
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		h.reject(w, http.StatusBadRequest, err, "reading body")
		return
	}
	if len(body) > maxBodySize {
		h.reject(w, http.StatusRequestEntityTooLarge, nil, "body too large")
		return
	}

	m, err := ParseMessage(body)
	if err != nil {
		h.reject(w, http.StatusBadRequest, err, "parsing message")
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"type":       m["Type"],
		"message_id": m["MessageId"],
		"topic":      m["TopicArn"],
	})

	if header := r.Header.Get(MessageTypeHeader); header != "" && header != m["Type"] {
		log.WithField("header", header).Warn("message type header does not match body")
		http.Error(w, "message type mismatch", http.StatusBadRequest)
		return
	}

	ok, err := h.verifier.VerifyEnvelope(r.Context(), m, nil)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrCertificateFetch) && !errors.Is(err, ErrUntrustedCertURL) {
			status = http.StatusBadGateway
		}
		log.WithError(err).Warn("could not verify message")
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !ok {
		log.Warn("rejected message with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	if err := h.dispatch(r.Context(), m["Type"], body); err != nil {
		if errors.Is(err, errUnknownType) {
			log.Warn("unknown message type")
			http.Error(w, "unknown message type", http.StatusBadRequest)
			return
		}
		log.WithError(err).Error("event handler failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	log.Debug("accepted message")
	w.WriteHeader(http.StatusOK)
}

var errUnknownType = errors.New("unknown message type")

func (h *handler) dispatch(ctx context.Context, typ string, body []byte) error {
	switch typ {
	case TypeNotification:
		var n Notification
		if err := json.Unmarshal(body, &n); err != nil {
			return errors.Wrap(err, "decoding notification")
		}
		return h.events.Notification(ctx, &n)
	case TypeSubscriptionConfirmation:
		var c SubscriptionConfirmation
		if err := json.Unmarshal(body, &c); err != nil {
			return errors.Wrap(err, "decoding subscription confirmation")
		}
		return h.events.SubscriptionConfirmation(ctx, &c)
	case TypeUnsubscribeConfirmation:
		var c UnsubscribeConfirmation
		if err := json.Unmarshal(body, &c); err != nil {
			return errors.Wrap(err, "decoding unsubscribe confirmation")
		}
		return h.events.UnsubscribeConfirmation(ctx, &c)
	default:
		return errUnknownType
	}
}

func (h *handler) reject(w http.ResponseWriter, status int, err error, msg string) {
	entry := h.log
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(msg)
	http.Error(w, http.StatusText(status), status)
}
