package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"app/internal/config"
	"app/internal/logger"
	"app/internal/worker/provision"
	"app/internal/worker/reconcile"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Worker mode: provision|reconcile")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Initialize DB connection pool
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL())
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Dispatch to the selected worker
	var runErr error
	switch *mode {
	case "provision":
		runErr = provision.Run(ctx, logger, cfg, pool)
	case "reconcile":
		runErr = reconcile.Run(ctx, logger, cfg, pool)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s worker failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s worker stopped gracefully", *mode)
}
