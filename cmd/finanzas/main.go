package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finanzas/internal/amqp"
	"finanzas/internal/backend"
	"finanzas/internal/cli"
	"finanzas/internal/currency"
	"finanzas/internal/factory"
	apphttp "finanzas/internal/http"
	"finanzas/internal/localstore"
	"finanzas/internal/notify"
	"finanzas/internal/session"
	"finanzas/internal/txcache"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	cfg := cli.LoadAndValidateConfig(logger)

	result, err := factory.New(logger).CreateBackend(context.Background(), backend.Config{
		Type:         backend.Type(cfg.DataBackend),
		SQLiteDBPath: cfg.SQLiteDBPath,
	})
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", "error", err)
			}
		}
	}()

	local, err := localstore.Open(cfg.LocalStatePath)
	if err != nil {
		logger.Error("Failed to open local state file", "error", err, "path", cfg.LocalStatePath)
		os.Exit(1)
	}

	// Export publishing is optional: without AMQP the worker sweep picks
	// transactions up from the database.
	var publisher txcache.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without export publishing", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	notifier := notify.LogNotifier{}

	sessions := session.NewManager(result.Backend.Auth(), result.Backend.Profiles(), notifier)
	sessions.Start(context.Background())
	defer sessions.Close()

	cur := currency.NewManager(local, result.Backend.Profiles(), sessions, notifier)
	cur.Start(context.Background())
	defer cur.Close()

	cache := txcache.New(result.Backend.Transactions(), sessions, notifier, publisher)
	cache.Start(context.Background())
	defer cache.Close()

	srv := apphttp.NewServer(":"+cfg.Port, sessions, cur, cache)

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting finanzas server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
