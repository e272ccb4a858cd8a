// Package main provides the pdfchat server: REST API, MCP over HTTP or stdio, health
// and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/app"
	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/logger"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := run(getEnv("PDFCHAT_CONFIG", "config.yaml")); err != nil {
		fmt.Fprintf(os.Stderr, "pdfchat-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + strconv.Itoa(cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.Server.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.Server.Mode == config.ModeStdio {
		// Stdio mode: MCP over stdin/stdout for local clients, HTTP stays up in the background.
		log.Info("starting MCP server (stdio mode)")
		if err := a.MCP.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("mcp server error", zap.Error(err))
		}
	} else {
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil {
				log.Error("http server error", zap.Error(err))
			}
		}
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout()))
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancelShutdown()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
