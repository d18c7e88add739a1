package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kenjenkins/snsverify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// logEvents logs every verified message.
type logEvents struct {
	log *logrus.Entry
}

func (e *logEvents) Notification(ctx context.Context, n *snsverify.Notification) error {
	e.log.WithFields(logrus.Fields{
		"message_id": n.MessageID,
		"topic":      n.TopicARN,
		"subject":    n.Subject,
	}).Info(n.Message)
	return nil
}

func (e *logEvents) SubscriptionConfirmation(ctx context.Context, c *snsverify.SubscriptionConfirmation) error {
	e.log.WithFields(logrus.Fields{
		"topic":         c.TopicARN,
		"subscribe_url": c.SubscribeURL,
	}).Info("subscription confirmation received; visit the SubscribeURL to confirm")
	return nil
}

func (e *logEvents) UnsubscribeConfirmation(ctx context.Context, c *snsverify.UnsubscribeConfirmation) error {
	e.log.WithField("topic", c.TopicARN).Info("unsubscribed")
	return nil
}

func newRouter(path string, fetcher snsverify.CertificateFetcher) *mux.Router {
	h := snsverify.NewHandler(
		&logEvents{log: log.WithField("context", "events")},
		snsverify.WithVerifier(snsverify.New(snsverify.WithCertificateFetcher(fetcher))),
		snsverify.WithLogger(log.WithField("context", "handler")),
	)

	r := mux.NewRouter()
	r.Handle(path, h).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func serve(ctx context.Context, addr, path, certHost string, timeout time.Duration) error {
	fetcher, err := newFetcher(true, certHost, timeout)
	if err != nil {
		return err
	}

	r := newRouter(path, fetcher)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stderr, r)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutting down SNS receiver")
		}
	}()

	log.WithField("addr", addr).Info("starting SNS receiver")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
