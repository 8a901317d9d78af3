package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/walletguard/walletguard/internal/api"
	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/auth"
	"github.com/walletguard/walletguard/internal/config"
	"github.com/walletguard/walletguard/internal/custody"
	"github.com/walletguard/walletguard/internal/keywrap"
	"github.com/walletguard/walletguard/internal/logger"
	"github.com/walletguard/walletguard/internal/metrics"
	"github.com/walletguard/walletguard/internal/middleware"
	"github.com/walletguard/walletguard/internal/secmem"
	"github.com/walletguard/walletguard/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Pin process memory so decrypted secrets cannot be written to swap.
	if err := secmem.Lock(); err != nil {
		slog.Warn("memory locking unavailable, secrets may reach swap", "error", err)
	}

	// Initialize database
	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Initialize the wrap provider for execution secrets
	wrapper, err := keywrap.New(&keywrap.Config{
		Provider:        cfg.WrapProvider,
		LocalKey:        cfg.WrapKey,
		AWSKMSKeyID:     cfg.AWSKMSKeyID,
		AWSKMSRegion:    cfg.AWSKMSRegion,
		VaultAddress:    cfg.VaultAddress,
		VaultToken:      cfg.VaultToken,
		VaultTransitKey: cfg.VaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize wrap provider", "error", err)
		os.Exit(1)
	}

	slog.Info("initialized wrap provider", "provider", cfg.WrapProvider)

	// Storage repositories
	records := storage.NewSecurityRecordRepository(store)
	challenges := storage.NewChallengeRepository(store)
	audit := storage.NewAuditLogRepo(store.DB())

	// Custody components
	authenticator := auth.NewAuthenticator(challenges, auth.Config{
		DefaultTTL:    cfg.ChallengeTTL,
		MnemonicTTL:   cfg.MnemonicChallengeTTL,
		SweepInterval: cfg.ChallengeSweepInterval,
	})
	defer authenticator.Close()

	sessions := custody.NewSessionStore(custody.SessionConfig{
		TTL:           cfg.SessionTTL,
		SweepInterval: cfg.SessionSweepInterval,
	})
	defer sessions.Close()

	reg := metrics.NewRegistry(sessions.Count)

	custodian := custody.NewCustodian(records, cfg.ServerSecret)
	executor := custody.NewExecutionAuthorizer(records, sessions, wrapper, cfg.ExecutionMaxLifetime)
	vault := custody.NewMnemonicVault(records, sessions, custody.VaultConfig{
		RevealLimit:  cfg.RevealRateLimit,
		RevealWindow: cfg.RevealRateWindow,
		DisplayTTL:   cfg.MnemonicDisplayTTL,
	})

	// Initialize application services
	custodyService := app.NewCustodyService(authenticator, custodian, sessions, executor, vault, records, audit, reg)

	// Initialize middleware
	limiter := middleware.NewRateLimiter(cfg.ChallengeRateLimit, cfg.ChallengeRateBurst, cfg.RateLimitEnabled)
	defer limiter.Close()
	tokenAuth := middleware.NewAuthMiddleware(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWKSURL)
	operator := middleware.NewOperatorAuth(cfg.OperatorKeyHash)

	// Initialize API server
	server := api.NewServer(cfg, custodyService, limiter, tokenAuth, operator, reg, store)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		// Create a context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}
