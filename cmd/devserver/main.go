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

	"github.com/joho/godotenv"

	"github.com/example/ride-session/internal/config"
	"github.com/example/ride-session/internal/credential"
	"github.com/example/ride-session/internal/devserver"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/matching"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadDevServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "address to listen on")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	pricing := matching.DefaultPricing()
	if cfg.PricingFile != "" {
		if pricing, err = matching.LoadPricing(cfg.PricingFile); err != nil {
			logger.Error("load pricing", "file", cfg.PricingFile, "error", err)
			os.Exit(1)
		}
	}

	srv := devserver.NewServer(devserver.Options{
		Signer:  credential.NewSigner(cfg.JWTSecret, cfg.TokenTTL),
		Pricing: pricing,
		Logger:  logger,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("devserver listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down devserver")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
