package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpcore "github.com/originhttp/origin/http"
)

func main() {
	telemetry, shutdownTelemetry, err := httpcore.NewTelemetryProviders(context.Background(), httpcore.TelemetryConfig{
		ServiceName:    "origin",
		ServiceVersion: "dev",
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	logger := telemetry.Logger

	resultCounter, err := telemetry.ResultCounter(context.Background())
	if err != nil {
		slog.Error("telemetry metrics init failed", "err", err)
		os.Exit(1)
	}

	compression := httpcore.NewCompressionRegistry()
	compression.RegisterDefaults()

	server, err := httpcore.NewServer(httpcore.ServerConfig{
		Name:            "origin",
		Compression:     compression,
		Logger:          logger,
		MetricsRecorder: resultCounter,
		Hooks: httpcore.HookTable{
			Request: func(ctx *httpcore.RequestContext) int {
				ctx.OutContentType = "text/plain; charset=utf-8"
				ctx.OutContent = []byte("hello world")
				return 200
			},
			AfterResponse: func(ctx *httpcore.RequestContext, code int) {
				logger.Info("request", "method", ctx.Method, "url", ctx.URL, "status", code)
			},
		},
	})
	if err != nil {
		slog.Error("server config invalid", "err", err)
		os.Exit(1)
	}

	acceptor := httpcore.NewAcceptor(server, "0.0.0.0:8080")
	acceptor.Start()
	if !acceptor.WaitStarted(5) {
		slog.Error("server failed to bind")
		os.Exit(1)
	}
	logger.Info("listening", "addr", "0.0.0.0:8080", "instance", telemetry.InstanceID.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	acceptor.Shutdown()
}
