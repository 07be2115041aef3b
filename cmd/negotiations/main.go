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
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"procureflow/internal/catalog"
	"procureflow/internal/config"
	"procureflow/internal/messaging"
	"procureflow/internal/negotiations"
	"procureflow/internal/telemetry"
)

const serviceName = "negotiations"
const serviceVersion = "0.1.0"

type appConfig struct {
	Port              string   `env:"PORT" envDefault:"8081"`
	PostgresURL       string   `env:"POSTGRES_URL,required"`
	CatalogServiceURL string   `env:"CATALOG_SERVICE_URL,required"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS"`
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg appConfig
	if err := config.Parse(&cfg); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	dsn, err := telemetry.DSNWithSearchPath(cfg.PostgresURL, "negotiations")
	if err != nil {
		logger.Error("failed to build database DSN", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", dsn)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicNegotiationAccepted)
		defer func() { _ = producer.Close() }()
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	catalogClient := catalog.NewClient(cfg.CatalogServiceURL, httpClient)

	repo := negotiations.NewNegotiationRepository(db)
	handler, err := negotiations.NewHandler(repo, catalogClient, producer, logger)
	if err != nil {
		logger.Error("failed to create handler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /negotiations", telemetry.WithHTTPRoute(handler.HandleOpen))
	mux.HandleFunc("GET /negotiations", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /negotiations/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("POST /negotiations/{id}/offers", telemetry.WithHTTPRoute(handler.HandleAppendOffer))
	mux.HandleFunc("POST /negotiations/{id}/accept", telemetry.WithHTTPRoute(handler.HandleAccept))
	mux.HandleFunc("POST /negotiations/{id}/reject", telemetry.WithHTTPRoute(handler.HandleReject))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting negotiations service", "port", cfg.Port)
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
