// Package main is the entry point for the autonomous trading agent.
// The agent watches a brokerage universe on a schedule, asks an LLM for
// trade decisions under a markdown strategy, executes them against a
// virtual or real ledger and serves its state over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tradeagent/internal/config"
	"github.com/aristath/tradeagent/internal/di"
	"github.com/aristath/tradeagent/internal/server"
	"github.com/aristath/tradeagent/pkg/logger"
)

const (
	initTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// main wires dependencies, starts the scheduler and the HTTP server, then
// waits for SIGINT or SIGTERM. Shutdown order: scheduler, broker
// connections, HTTP server, databases.
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Bool("mock", cfg.Kiwoom.Mock).
		Bool("virtual", cfg.Portfolio.VirtualMode).
		Msg("Starting trading agent")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), initTimeout)
	if err := container.Agent.Init(initCtx); err != nil {
		initCancel()
		container.Close()
		log.Fatal().Err(err).Msg("Failed to initialize agent")
	}
	initCancel()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.LogPretty,
		DataDir:   cfg.DataDir,
		Events:    container.Events,
		Databases: container.StatsProviders(),
		Broker:    container.Broker,
		Modules:   di.RouteModules(container, log),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()
	log.Info().Msg("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	container.Scheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	container.Broker.Close()
	container.Broker = nil
	log.Info().Msg("Broker connections closed")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Close()
	log.Info().Msg("Server stopped")
}
