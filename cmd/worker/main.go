package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"procureflow/internal/config"
	"procureflow/internal/messaging"
	"procureflow/internal/telemetry"
	"procureflow/internal/worker"
)

const serviceName = "materializer-worker"
const serviceVersion = "0.1.0"

type appConfig struct {
	KafkaBrokers     []string `env:"KAFKA_BROKERS,required"`
	OrdersServiceURL string   `env:"ORDERS_SERVICE_URL,required"`
	ConsumerGroup    string   `env:"CONSUMER_GROUP" envDefault:"order-materializer"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg appConfig
	if err := config.Parse(&cfg); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(context.Background(), serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicNegotiationAccepted, cfg.ConsumerGroup)
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	materializer := worker.NewMaterializerHandler(cfg.OrdersServiceURL, httpClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting materializer worker", "brokers", cfg.KafkaBrokers,
		"topic", messaging.TopicNegotiationAccepted)

	if err := consumer.Consume(ctx, materializer.Handle); err != nil {
		if ctx.Err() == context.Canceled {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
