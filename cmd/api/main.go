package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/wallet-ledger/internal/commission"
	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/incident"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/middleware"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
	"github.com/josh-kwaku/wallet-ledger/internal/service/billing"
	"github.com/josh-kwaku/wallet-ledger/internal/service/withdrawal"
)

const (
	shutdownTimeout       = 30 * time.Second
	idempotencySweepEvery = time.Hour
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("wallet-ledger", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("wallet-ledger exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	rates := commission.Default()
	if cfg.CommissionRatesFile != "" {
		if rates, err = commission.Load(cfg.CommissionRatesFile); err != nil {
			return fmt.Errorf("load commission rates: %w", err)
		}
	}

	accounts := repository.NewAccountRepository(db)
	entries := repository.NewEntryRepository(db)
	withdrawals := repository.NewWithdrawalRepository(db)
	statements := repository.NewStatementRepository(db)
	incidents := repository.NewIncidentRepository(db)
	auditRuns := repository.NewAuditRunRepository(db)
	settlementEvents := repository.NewSettlementEventRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	lc := ledger.NewContext(ledger.SystemClock{})
	engine := ledger.NewEngine(db, accounts, entries, lc)

	broadcaster := incident.NewBroadcaster()
	publishers := incident.Multi{broadcaster}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = incident.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		publishers = append(publishers, incident.NewRedisPublisher(rdb, incident.DefaultStream))
	}

	rail := service.NewPayoutRailClient(cfg.PayoutRailURL, cfg.PayoutCallbackURL)
	withdrawalSvc := withdrawal.NewService(engine, withdrawals, accounts, rail, withdrawal.Config{
		ReviewThreshold: cfg.WithdrawalReviewThreshold,
		ResubmitAfter:   cfg.ResubmitAfter,
	})
	billingSvc := billing.NewService(engine, statements, entries, accounts, db)
	walletSvc := service.NewWalletService(accounts, entries, withdrawalSvc, lc, cfg.DefaultMinimumWithdrawal)
	earningsSvc := service.NewEarningsService(engine, accounts, commission.NewCalculator(rates))
	auditor := service.NewAuditor(engine, accounts, incidents, auditRuns, publishers,
		logger.With("component", "auditor"), cfg.AuditInterval)
	processor := service.NewSettlementProcessor(settlementEvents, withdrawalSvc,
		logger.With("component", "settlement_processor"), cfg.SettlementInterval)

	accountHandler := handler.NewAccountHandler(walletSvc, engine)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalSvc, walletSvc)
	statementHandler := handler.NewStatementHandler(billingSvc, walletSvc)
	earningsHandler := handler.NewEarningsHandler(earningsSvc)
	incidentHandler := handler.NewIncidentHandler(auditor, broadcaster)
	webhookHandler := handler.NewWebhookHandler(settlementEvents, cfg.WebhookSecret)
	healthHandler := handler.NewHealthHandler(db, rdb)

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.Auth(cfg.JWTSecret)(h)
	}
	operator := func(h http.HandlerFunc) http.Handler {
		return middleware.Auth(cfg.JWTSecret)(middleware.RequireOperator(h))
	}
	idempotent := func(h http.HandlerFunc) http.Handler {
		return middleware.Auth(cfg.JWTSecret)(middleware.Idempotency(idempotency)(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /ready", healthHandler.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/v1/webhooks/payout-rail", webhookHandler.ReceivePayoutCallback)

	mux.Handle("GET /api/v1/accounts", authed(accountHandler.List))
	mux.Handle("GET /api/v1/accounts/{id}", authed(accountHandler.Get))
	mux.Handle("GET /api/v1/accounts/{id}/summary", authed(accountHandler.Summary))
	mux.Handle("PUT /api/v1/accounts/{id}/policy", authed(accountHandler.UpdatePolicy))
	mux.Handle("GET /api/v1/accounts/{id}/entries", authed(accountHandler.ListEntries))
	mux.Handle("GET /api/v1/entries/{id}", authed(accountHandler.GetEntry))

	mux.Handle("POST /api/v1/accounts/{id}/withdrawals", idempotent(withdrawalHandler.Request))
	mux.Handle("GET /api/v1/accounts/{id}/withdrawals", authed(withdrawalHandler.List))
	mux.Handle("GET /api/v1/withdrawals/{id}", authed(withdrawalHandler.Get))
	mux.Handle("POST /api/v1/withdrawals/{id}/cancel", authed(withdrawalHandler.Cancel))

	mux.Handle("GET /api/v1/accounts/{id}/statements", authed(statementHandler.List))
	mux.Handle("GET /api/v1/statements/{id}", authed(statementHandler.Get))

	mux.Handle("POST /api/v1/accounts", operator(accountHandler.Provision))
	mux.Handle("PUT /api/v1/accounts/{id}/verification", operator(accountHandler.SetVerification))
	mux.Handle("POST /api/v1/accounts/{id}/deactivate", operator(accountHandler.Deactivate))
	mux.Handle("POST /api/v1/events/payable", operator(earningsHandler.RecordPayable))
	mux.Handle("GET /api/v1/incidents", operator(incidentHandler.List))
	mux.Handle("GET /api/v1/incidents/stream", operator(incidentHandler.Stream))
	mux.Handle("POST /api/v1/incidents/{id}/resolve", operator(incidentHandler.Resolve))

	var h http.Handler = middleware.Metrics(mux)
	h = middleware.Logging(h)
	h = middleware.Tracing(h)
	h = middleware.Recovery(h)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	workers := []interface{ Start(context.Context) }{
		withdrawal.NewRunner(withdrawalSvc, logger.With("component", "withdrawal_runner"), cfg.AutoWithdrawalInterval),
		billing.NewRunner(billingSvc, logger.With("component", "billing_runner"), cfg.BillingInterval),
		auditor,
		processor,
	}
	for _, w := range workers {
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		sweepIdempotencyKeys(gctx, idempotency, logger)
		return nil
	})

	return g.Wait()
}

// sweepIdempotencyKeys deletes expired idempotency entries until ctx ends.
func sweepIdempotencyKeys(ctx context.Context, repo *repository.IdempotencyRepository, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencySweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanExpired(ctx)
			if err != nil {
				logger.Error("failed to clean idempotency keys", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired idempotency keys removed", "count", n)
			}
		}
	}
}
