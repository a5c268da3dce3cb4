package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/storefront/internal/auth"
	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/session"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := config.LoadDotEnv(""); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadStorefront()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, "storefront", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("storefront", cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	instruments, err := telemetry.NewInstruments(otel.Meter("storefront"))
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	defer closeStore()

	orderOpts := []orders.Option{orders.WithInstruments(instruments)}
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers)
		defer func() { _ = producer.Close() }()
		orderOpts = append(orderOpts, orders.WithPublishers(
			producer.Topic(domain.TopicOrderPlaced),
			producer.Topic(domain.TopicOrderStatusChanged),
		))
	}

	products := catalog.Default()
	sessions := session.NewRegistry(products, store, logger,
		session.WithCartOptions(cart.WithInstruments(instruments)),
		session.WithOrderOptions(orderOpts...),
	)

	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go sessions.RunEviction(evictCtx, cfg.SessionIdleTimeout, max(cfg.SessionIdleTimeout/2, time.Minute))

	directory, err := auth.NewDirectory(logger, auth.WithDelay(cfg.AuthDelay))
	if err != nil {
		logger.Error("failed to create accounts directory", "error", err)
		os.Exit(1)
	}

	catalogHandler := catalog.NewHandler(products, logger)
	checkoutHandler := checkout.NewHandler(checkout.NewService(products, logger), sessions, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", catalogHandler.HandleList)
	mux.HandleFunc("GET /products/{id}", catalogHandler.HandleGet)
	mux.HandleFunc("POST /checkout", checkoutHandler.HandleCheckout)
	cart.NewHandler(sessions, logger).Register(mux)
	orders.NewHandler(sessions, logger).Register(mux)
	auth.NewHandler(directory, sessions, logger).Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(sessions.Middleware(telemetry.TagRoutes(mux)), "storefront",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", cfg.Port, "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
