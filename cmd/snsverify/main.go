package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/kenjenkins/snsverify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var log = logrus.New()

func main() {
	var logLevel string
	var certFile string
	var requireTLS bool
	var certHost string
	var timeout time.Duration
	var listenAddr string
	var path string

	funcBefore := func(ctx *cli.Context) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level: %v", err)
		}
		log.SetLevel(level)
		return nil
	}

	app := &cli.App{
		Name:  "snsverify",
		Usage: "verify Amazon SNS message signatures",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log",
				Value:       "info",
				Usage:       "logging level",
				EnvVars:     []string{"SNSVERIFY_LOG"},
				Destination: &logLevel,
			},
			&cli.DurationFlag{
				Name:        "fetch-timeout",
				Value:       10 * time.Second,
				Usage:       "timeout for fetching signing certificates",
				Destination: &timeout,
			},
		},
		Before: funcBefore,
		Commands: []*cli.Command{
			{
				Name:      "sign-string",
				Usage:     "prints the string a message was signed over",
				ArgsUsage: "MESSAGE.json",
				Action: func(ctx *cli.Context) error {
					return signString(ctx.App.Writer, ctx.Args().First())
				},
			},
			{
				Name:      "verify",
				Usage:     "checks the signature of a message",
				ArgsUsage: "MESSAGE.json",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "cert",
						Usage:       "PEM certificate to verify against instead of fetching SigningCertURL",
						Destination: &certFile,
					},
					&cli.BoolFlag{
						Name:        "require-tls",
						Value:       true,
						Usage:       "only fetch certificates over https",
						Destination: &requireTLS,
					},
					&cli.StringFlag{
						Name:        "cert-host",
						Value:       snsverify.DefaultCertHostPattern,
						Usage:       "pattern the certificate host must match (empty allows any host)",
						Destination: &certHost,
					},
				},
				Action: func(ctx *cli.Context) error {
					return verify(ctx.Context, ctx.App.Writer, ctx.Args().First(), certFile, requireTLS, certHost, timeout)
				},
			},
			{
				Name:  "serve",
				Usage: "receives SNS HTTP deliveries and logs verified messages",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "listen-addr",
						Value:       ":8080",
						Usage:       "address to listen on",
						EnvVars:     []string{"SNSVERIFY_LISTEN_ADDR"},
						Destination: &listenAddr,
					},
					&cli.StringFlag{
						Name:        "path",
						Value:       "/sns",
						Usage:       "path SNS posts to",
						Destination: &path,
					},
					&cli.StringFlag{
						Name:        "cert-host",
						Value:       snsverify.DefaultCertHostPattern,
						Usage:       "pattern the certificate host must match",
						Destination: &certHost,
					},
				},
				Action: func(ctx *cli.Context) error {
					return serve(ctx.Context, listenAddr, path, certHost, timeout)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		log.WithError(err).Error("snsverify failed")
		os.Exit(1)
	}
}

func readMessage(file string) (snsverify.Message, error) {
	if file == "" {
		return nil, errors.New("message file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "reading message")
	}
	return snsverify.ParseMessage(data)
}

func signString(w io.Writer, file string) error {
	m, err := readMessage(file)
	if err != nil {
		return err
	}
	s, err := snsverify.SigningStringFor(m)
	if err != nil {
		return err
	}
	_, err = w.Write(s)
	return err
}

func verify(ctx context.Context, w io.Writer, file, certFile string, requireTLS bool, certHost string, timeout time.Duration) error {
	m, err := readMessage(file)
	if err != nil {
		return err
	}

	var cert []byte
	if certFile != "" {
		cert, err = os.ReadFile(certFile)
		if err != nil {
			return errors.Wrap(err, "reading certificate")
		}
	}

	fetcher, err := newFetcher(requireTLS, certHost, timeout)
	if err != nil {
		return err
	}
	ok, err := snsverify.New(snsverify.WithCertificateFetcher(fetcher)).VerifyEnvelope(ctx, m, cert)
	if err != nil {
		return err
	}

	entry := log.WithFields(logrus.Fields{"message_id": m["MessageId"], "topic": m["TopicArn"]})
	if !ok {
		fmt.Fprintln(w, "not authentic")
		entry.Warn("signature does not match")
		return cli.Exit("", 1)
	}
	fmt.Fprintln(w, "authentic")
	entry.Debug("signature verified")
	return nil
}

func newFetcher(requireTLS bool, certHost string, timeout time.Duration) (snsverify.CertificateFetcher, error) {
	var pattern *regexp.Regexp
	if certHost != "" {
		var err error
		pattern, err = regexp.Compile(certHost)
		if err != nil {
			return nil, errors.Wrap(err, "compiling cert-host pattern")
		}
	}
	fetcher := snsverify.NewHTTPFetcher(
		snsverify.WithHTTPClient(&http.Client{Timeout: timeout}),
		snsverify.WithFetchLogger(log.WithField("context", "fetcher")),
	)
	return snsverify.RestrictCertHost(fetcher, requireTLS, pattern), nil
}
