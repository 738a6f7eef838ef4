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

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/gateway"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8080")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("STOREFRONT_SERVICE_URL"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	storefrontProxy := gateway.NewServiceProxy(cfg.StorefrontURL, httpClient)
	handler := gateway.NewHandler(storefrontProxy, identity.NewHeaderProvider(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(handler.HandlePublic))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(handler.HandlePublic))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("GET /cart/count", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("PUT /cart/items/{productId}", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleUser))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleUser))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, "gateway", otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
