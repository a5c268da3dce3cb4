package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/email"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const groupID = "order-emails"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := config.LoadDotEnv(""); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadMailer()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, "email-service", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	mailer := email.NewMailer(email.NewLogSender(logger), logger)

	placed := messaging.NewConsumer(cfg.KafkaBrokers, domain.TopicOrderPlaced, groupID, logger)
	defer func() { _ = placed.Close() }()
	changed := messaging.NewConsumer(cfg.KafkaBrokers, domain.TopicOrderStatusChanged, groupID, logger)
	defer func() { _ = changed.Close() }()

	logger.Info("starting email service", "brokers", cfg.KafkaBrokers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return placed.Consume(gctx, mailer.HandleOrderPlaced) })
	g.Go(func() error { return changed.Consume(gctx, mailer.HandleStatusChanged) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumers stopped")
}
