package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegishook/aegishook/internal/api"
	"github.com/aegishook/aegishook/internal/auth"
	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/db"
	"github.com/aegishook/aegishook/internal/health"
	"github.com/aegishook/aegishook/internal/intake"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/metrics"
	"github.com/aegishook/aegishook/internal/store"
	"github.com/aegishook/aegishook/internal/tracing"
)

const serviceName = "aegishook-intake"

// buildValidator picks the token validation mode from config: explicit
// PEM key, JWKS fetch, or disabled for local development behind no
// ingress.
func buildValidator(ctx context.Context, cfg config.Auth) (*auth.Validator, error) {
	switch {
	case cfg.Disabled:
		return auth.NewDisabled(), nil
	case cfg.PublicKeyPEM != "":
		return auth.NewValidator(cfg.PublicKeyPEM, cfg.Issuer, cfg.Audience)
	case cfg.JWKSURL != "":
		return auth.NewValidatorFromJWKS(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	default:
		return nil, errors.New("no auth configured: set AUTH_JWT_PUBLIC_KEY, AUTH_JWKS_URL or AUTH_DISABLED=true")
	}
}

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()
	logger := logging.New(serviceName)

	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN(), serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}

	prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer prod.Stop()

	validator, err := buildValidator(ctx, cfg.Auth)
	if err != nil {
		logger.Plain().WithError(err).Fatal("auth setup failed")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	svc := intake.NewService(store.New(pool), prod, cfg.NSQ.DeliveriesTopic)
	router := api.Router(
		api.NewHandler(svc),
		validator,
		health.HTTPHandler(pool, nil),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: router}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("intake HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("intake HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down intake service")
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("intake service stopped")
}
