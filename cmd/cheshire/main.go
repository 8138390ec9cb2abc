// Cheshire Core Server
//
// Process entry point for the framework: loads the configuration
// document tree, builds every manager and transport server it
// declares, and serves until SIGINT/SIGTERM.
//
// Usage:
//
//	go run ./cmd/cheshire                         # config dir ./config
//	go run ./cmd/cheshire -config /etc/cheshire    # custom config root
//	go build -o cheshire-core ./cmd/cheshire && ./cheshire-core
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halimchaibi/cheshire-core/internal/bootstrap"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/specconfig"
	"github.com/halimchaibi/cheshire-core/internal/trace"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

func main() {
	configDir := flag.String("config", "./config", "configuration document root directory")
	logFormat := flag.String("log-format", "console", "log output format: console or json")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP/gRPC trace collector address; tracing disabled when empty")
	stopDeadline := flag.Duration("stop-deadline", 30*time.Second, "bound on graceful shutdown's server/session fan-out")
	flag.Parse()

	logger := newLogger(*logFormat)
	logger.Info("cheshire_core_starting", "version", Version, "config", *configDir)

	if *otlpEndpoint != "" {
		shutdown, err := trace.Init("cheshire-core", Version, *otlpEndpoint)
		if err != nil {
			logger.Error("trace_init_failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("trace_shutdown_failed", "error", err)
			}
		}()
		logger.Info("tracing_enabled", "endpoint", *otlpEndpoint)
	}

	ctx := context.Background()
	source := specconfig.NewDirConfigSource(*configDir)
	app, err := bootstrap.Build(ctx, source, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("managers_built", "capabilities", app.Capabilities.Names())

	if err := app.Session.Start(); err != nil {
		logger.Error("session_start_failed", "error", err)
		os.Exit(1)
	}

	app.Runtime = app.Runtime.WithStopDeadline(*stopDeadline)
	if err := app.Runtime.Start(ctx); err != nil {
		logger.Error("runtime_start_failed", "error", err)
		_ = app.Session.Stop()
		os.Exit(1)
	}
	logger.Info("cheshire_core_ready", "capabilities", app.Capabilities.Names())
	fmt.Println("Cheshire Core running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), *stopDeadline+5*time.Second)
	defer cancel()
	if err := app.Runtime.Stop(stopCtx); err != nil {
		logger.Warn("runtime_stop_reported_errors", "error", err)
	}
	logger.Info("cheshire_core_stopped")
}

func newLogger(format string) logging.Logger {
	if format == "json" {
		return logging.New(os.Stdout)
	}
	return logging.NewConsole()
}
