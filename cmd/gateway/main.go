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
	"procureflow/internal/gateway"
	"procureflow/internal/telemetry"
)

const serviceName = "gateway"
const serviceVersion = "0.1.0"

type appConfig struct {
	Port                   string `env:"PORT" envDefault:"8080"`
	NegotiationsServiceURL string `env:"NEGOTIATIONS_SERVICE_URL,required"`
	OrdersServiceURL       string `env:"ORDERS_SERVICE_URL,required"`
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

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	negotiationsProxy := gateway.NewServiceProxy(cfg.NegotiationsServiceURL, httpClient)
	ordersProxy := gateway.NewServiceProxy(cfg.OrdersServiceURL, httpClient)
	handler := gateway.NewHandler(negotiationsProxy, ordersProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /negotiations", telemetry.WithHTTPRoute(handler.HandleNegotiations))
	mux.HandleFunc("GET /negotiations", telemetry.WithHTTPRoute(handler.HandleNegotiations))
	mux.HandleFunc("GET /negotiations/{id}", telemetry.WithHTTPRoute(handler.HandleNegotiations))
	mux.HandleFunc("POST /negotiations/{id}/offers", telemetry.WithHTTPRoute(handler.HandleNegotiations))
	mux.HandleFunc("POST /negotiations/{id}/accept", telemetry.WithHTTPRoute(handler.HandleNegotiations))
	mux.HandleFunc("POST /negotiations/{id}/reject", telemetry.WithHTTPRoute(handler.HandleNegotiations))
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /orders/{id}/payment", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("PATCH /orders/{id}/logistics", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /orders/{id}/invoice", telemetry.WithHTTPRoute(handler.HandleOrders))

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
		logger.Info("starting gateway service", "port", cfg.Port)
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
