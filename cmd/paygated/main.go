// paygated serves the marketplace payment API: intent initiation, on-chain
// verification, and access checks.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codebazaar/paygate/pkg/access"
	"github.com/codebazaar/paygate/pkg/chain"
	"github.com/codebazaar/paygate/pkg/config"
	"github.com/codebazaar/paygate/pkg/ledger"
	"github.com/codebazaar/paygate/pkg/metrics"
	"github.com/codebazaar/paygate/pkg/pricing"
	"github.com/codebazaar/paygate/pkg/server"
	"github.com/codebazaar/paygate/pkg/verifier"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open ledger", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	chainClient, err := chain.NewRestClient(cfg.Chain.Network, cfg.Chain.Endpoints, logger)
	if err != nil {
		logger.Error("build chain client", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	engine := verifier.NewEngine(store, chainClient, verifier.Options{
		MaxAttempts: cfg.Verify.MaxAttempts,
		RetryDelay:  cfg.Verify.RetryDelay,
	}, logger, recorder)

	srv := server.New(server.Deps{
		Ledger:   store,
		Resolver: pricing.NewResolver(store),
		Engine:   engine,
		Access:   access.NewService(store, chainClient, cfg.Chain.ContractAddress, logger, recorder),
		Chain:    chainClient,
		Logger:   logger,
		Registry: registry,
		Policy: server.IntentPolicy{
			TTL: cfg.Verify.IntentTTL,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("paygated listening",
			"addr", cfg.ListenAddr,
			"network", cfg.Chain.Network,
			"db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
