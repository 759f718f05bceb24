package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"school-pickup/auth"
	"school-pickup/infrastructure/gateway"
	"school-pickup/internal"
	"school-pickup/observability"
	"school-pickup/repositories"
	"school-pickup/runtime/workers"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns the server lifecycle, so deferred cleanup
// always executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Directory (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	directory := repositories.NewDirectoryRepository(db, log)
	if config.SeedDirectory {
		if err = directory.Seed(); err != nil {
			return fmt.Errorf("directory seeding failed: %w", err)
		}
	}

	// 3. Composer & Transport
	policy, err := internal.NewPolicy(log, config)
	if err != nil {
		return fmt.Errorf("composer setup failed: %w", err)
	}
	transport, release, err := internal.OpenTransport(log, config, "school-pickup-gateway")
	if err != nil {
		return err
	}
	defer release()

	// 4. Gateway
	var opts []gateway.Option
	if config.AuthSecret != "" {
		tokens, err := auth.NewTokens(config.AuthSecret, config.AuthTokenTTL)
		if err != nil {
			return fmt.Errorf("auth setup failed: %w", err)
		}
		opts = append(opts, gateway.WithAuth(tokens, directory))
		log.Info("Websocket authentication enabled", "token_ttl", config.AuthTokenTTL)
	}
	stats := observability.NewChannelStats(log)
	gw := gateway.New(log, transport, directory, policy, stats, gateway.Config{
		WriteWait:  config.WriteWait,
		PingPeriod: config.PingPeriod,
		Channel:    internal.ChannelConfig(config),
	}, opts...)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(workers.NewReporterWorker(log, stats, config.ReportInterval))
	go supervisor.Run(ctx)
	defer supervisor.Stop()

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket gateway", "address", address, "transport", config.Transport, "at", time.Now().UTC())
		if err := gw.Listen(address); err != nil {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 7. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("Gateway shutdown incomplete", "error", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}
