// cmd/marketplace/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"substitution-marketplace/internal/common/config"
	"substitution-marketplace/internal/common/database"
	"substitution-marketplace/internal/common/identity"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/common/notify"
	"substitution-marketplace/internal/common/observability"
	"substitution-marketplace/internal/marketplace/availability"
	"substitution-marketplace/internal/marketplace/candidacy"
	"substitution-marketplace/internal/marketplace/confirmation"
	"substitution-marketplace/internal/marketplace/posting"
	"substitution-marketplace/internal/marketplace/search"
	"substitution-marketplace/internal/server"

	clockpkg "substitution-marketplace/internal/common/clock"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting marketplace service...",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init External Service Clients ---
	resolver := identity.NewHTTPResolver(cfg.Identity.BaseURL, cfg.Identity.APIKey, cfg.Identity.Timeout)

	var notifier notify.Notifier
	awsNotifier, err := notify.NewAWSNotifier(ctx, cfg.Notifications, contactLookup(pg.DB), log)
	if err != nil {
		zapLog.Warn("notifier initialization failed, notifications disabled", zap.Error(err))
		notifier = &notify.NoOp{}
	} else {
		notifier = awsNotifier
	}

	// --- Assemble Marketplace Services ---
	clk := clockpkg.System()

	indexer := search.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.Index, log)
	tokens := confirmation.NewTokenStore(rdb.Client, log)

	availabilitySvc := availability.NewService(
		availability.Config{
			DailyToggleLimit:    cfg.Marketplace.DailyToggleLimit,
			MinJustificationLen: cfg.Marketplace.MinJustificationLen,
		},
		pg.DB, rdb.Client, clk, log,
	)
	postingSvc := posting.NewService(
		posting.Config{ImmediateTTL: cfg.Marketplace.ImmediateTTL},
		pg.DB, rdb.Client, indexer, notifier, clk, log,
	)
	candidacySvc := candidacy.NewService(
		candidacy.Config{ConfirmationTTL: cfg.Marketplace.ConfirmationTTL},
		pg.DB, tokens, notifier, clk, log,
	)
	confirmationSvc := confirmation.NewService(pg.DB, tokens, notifier, clk, log)

	zapLog.Info("Marketplace services initialized")

	// --- HTTP API ---
	apiMux := http.NewServeMux()
	srv := server.New(availabilitySvc, postingSvc, candidacySvc, confirmationSvc, resolver, log)
	srv.Routes(apiMux)

	apiServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      apiMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		zapLog.Info("API server listening", zap.String("address", cfg.Server.Address))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Overdue Confirmation Sweep ---
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(cfg.Marketplace.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				opCtx, cancel := context.WithTimeout(sweepCtx, cfg.Marketplace.OperationTimeout)
				if _, _, err := confirmationSvc.SweepOverdue(opCtx); err != nil {
					zapLog.Error("confirmation sweep failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
	zapLog.Info("Confirmation sweep started", zap.Duration("interval", cfg.Marketplace.SweepInterval))

	// --- Health/Metrics Server ---
	if cfg.Metrics.Enabled {
		go func() {
			http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "healthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if err := pg.Ping(r.Context()); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
					return
				}
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "ready",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.Handle("/metrics", promhttp.Handler())
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("API server shutdown failed", zap.Error(err))
	}

	select {
	case <-sweepDone:
	case <-time.After(30 * time.Second):
		zapLog.Warn("sweep did not stop in time")
	}

	zapLog.Info("Marketplace service stopped gracefully")
}

// contactLookup resolves a recipient's email and phone for the notifier.
// Professionals and clinics share the recipient id space.
func contactLookup(db *sql.DB) notify.ContactLookup {
	return func(ctx context.Context, recipientID string) (string, string, error) {
		var email, phone string
		err := db.QueryRowContext(ctx,
			`SELECT email, COALESCE(phone, '') FROM professionals WHERE id = $1`,
			recipientID).Scan(&email, &phone)
		if err == nil {
			return email, phone, nil
		}
		if err != sql.ErrNoRows {
			return "", "", err
		}

		err = db.QueryRowContext(ctx,
			`SELECT email, COALESCE(phone, '') FROM clinics WHERE id = $1`,
			recipientID).Scan(&email, &phone)
		if err != nil {
			return "", "", fmt.Errorf("recipient %s not found: %w", recipientID, err)
		}
		return email, phone, nil
	}
}
