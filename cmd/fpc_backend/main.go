package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ulule/limiter/v3"

	"github.com/SscSPs/bank_posting_core/internal/core/coa"
	"github.com/SscSPs/bank_posting_core/internal/core/services"
	"github.com/SscSPs/bank_posting_core/internal/events"
	kafkaevents "github.com/SscSPs/bank_posting_core/internal/events/kafka"
	"github.com/SscSPs/bank_posting_core/internal/handlers"
	"github.com/SscSPs/bank_posting_core/internal/middleware"
	"github.com/SscSPs/bank_posting_core/internal/platform/config"
	"github.com/SscSPs/bank_posting_core/internal/platform/logger"
	"github.com/SscSPs/bank_posting_core/internal/repositories/database/pgsql"
	"github.com/SscSPs/bank_posting_core/pkg/database"
)

const (
	ledgerMigrations  = "file://migrations/ledger"
	balanceMigrations = "file://migrations/balances"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerPool, balancePool, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize database pools", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer database.ClosePgxPool(ledgerPool, log)
	if balancePool != ledgerPool {
		defer database.ClosePgxPool(balancePool, log)
	}

	repos := pgsql.NewRepositoryProvider(ledgerPool, balancePool)

	registry := coa.NewRegistry(coa.DefaultTable())
	if err := repos.Ledger.SeedChartOfAccounts(ctx, registry.Accounts()); err != nil {
		log.Error("Failed to seed chart of accounts", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafkaevents.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Error("Failed to close kafka publisher", slog.String("error", err.Error()))
			}
		}()
		publisher = kp
		log.Info("Publishing committed entries to kafka", slog.String("topic", cfg.KafkaTopic))
	}

	serviceContainer, workers := services.NewServiceContainer(cfg, repos, registry, publisher)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		workers.Accrual.Start(ctx)
	}()
	if workers.Outbox != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workers.Outbox.Run(ctx)
		}()
	}

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware (logging, recovery)
	r.Use(middleware.StructuredLoggingMiddleware(log), gin.Recovery())

	if err := r.SetTrustedProxies(nil); err != nil {
		log.Error("Failed to set trusted proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var rateLimiter *limiter.Limiter
	if cfg.RateLimit != "" {
		rateLimiter, err = middleware.NewLimiter(cfg.RateLimit)
		if err != nil {
			log.Error("Invalid RATE_LIMIT", slog.String("value", cfg.RateLimit), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	handlers.RegisterRoutes(r, cfg, serviceContainer, rateLimiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", slog.String("port", cfg.Port), slog.Bool("shared_store", cfg.SharedStore()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to run", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PostingTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", slog.String("error", err.Error()))
	}
	wg.Wait()
	log.Info("Server stopped")
}

// openStores connects to the ledger and, in outbox mode, the balance database,
// applying each database's migrations first.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, *pgxpool.Pool, error) {
	if err := database.RunMigrations(cfg.LedgerDatabaseURL, ledgerMigrations, "schema_migrations_ledger", log); err != nil {
		return nil, nil, err
	}
	balanceURL := cfg.BalanceDatabaseURL
	if cfg.SharedStore() {
		balanceURL = cfg.LedgerDatabaseURL
	}
	if err := database.RunMigrations(balanceURL, balanceMigrations, "schema_migrations_balances", log); err != nil {
		return nil, nil, err
	}

	ledgerPool, err := database.NewPgxPool(ctx, cfg.LedgerDatabaseURL, log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SharedStore() {
		return ledgerPool, ledgerPool, nil
	}

	balancePool, err := database.NewPgxPool(ctx, cfg.BalanceDatabaseURL, log)
	if err != nil {
		ledgerPool.Close()
		return nil, nil, err
	}
	return ledgerPool, balancePool, nil
}
