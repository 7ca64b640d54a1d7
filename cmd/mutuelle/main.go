package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/config"
	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/handler"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/cache"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/client"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/memory"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/observability"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/resilience"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/sqlstore"
	"github.com/boddenberg/mutuelle-ledger/internal/port"
	"github.com/boddenberg/mutuelle-ledger/internal/scheduler"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Bool("remote_periods", cfg.PeriodsAPIURL != ""),
		zap.String("interest_rate_percent", cfg.Fund.InterestRatePercent.String()),
		zap.String("registration_fee", cfg.Fund.RegistrationFee.String()),
		zap.String("rounding_unit", cfg.Fund.RoundingUnit.String()),
		zap.Int("ceiling_tiers", len(cfg.Fund.Tiers)),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("renfoulement_cron", cfg.RenfoulementCron),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "mutuelle-ledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Ledger store and periods ---
	store, book, err := openStore(cfg, resilienceCfg, logger)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer store.Close()

	var periods port.PeriodProvider = book
	var periodWriter port.PeriodWriter = book
	if cfg.PeriodsAPIURL != "" {
		periodCache := cache.New[*domain.Period](cfg.CacheTTL)
		defer periodCache.Close()

		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		periods = client.NewPeriodClient(httpClient, cfg.PeriodsAPIURL, resilienceCfg, periodCache, cfg.CurrentPeriodTTL, metrics, logger)
		periodWriter = nil
		logger.Info("using remote period service", zap.String("url", cfg.PeriodsAPIURL))
	}

	// --- Services ---
	fund := service.NewFundService(store, periods, service.FundConfig{
		InterestRate:    cfg.Fund.InterestRate(),
		RegistrationFee: cfg.Fund.RegistrationFee,
		RoundingUnit:    cfg.Fund.RoundingUnit,
		Tiers:           cfg.Fund.Tiers,
	}, metrics, logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	err = fund.Initialize(initCtx)
	cancelInit()
	if err != nil {
		logger.Fatal("failed to initialize fund", zap.Error(err))
	}

	// --- Scheduler ---
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	var sched *scheduler.Scheduler
	if cfg.RenfoulementCron != "" {
		sched = scheduler.New(appCtx, fund, logger)
		if err := sched.Register(cfg.RenfoulementCron); err != nil {
			logger.Fatal("failed to schedule renfoulement", zap.Error(err))
		}
		sched.Start()
	}

	// --- Router ---
	auth := handler.NewAuthenticator(cfg.JWTSecret)
	limiter := handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()
	router := handler.NewRouter(fund, periodWriter, auth, limiter, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(ctx)
	}
	cancelApp()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// localPeriods is a period book kept next to the ledger.
type localPeriods interface {
	port.PeriodProvider
	port.PeriodWriter
}

// openStore builds the ledger store selected by STORE_DRIVER together with
// the period book it carries.
func openStore(cfg *config.Config, retry resilience.Config, logger *zap.Logger) (port.LedgerStore, localPeriods, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory ledger; balances are lost on restart")
		return memory.New(), memory.NewPeriodBook(), nil
	}

	store, err := sqlstore.Open(cfg.StoreDriver, cfg.DatabaseDSN, sqlstore.Options{
		Retry:   retry,
		Breaker: resilience.NewCircuitBreaker("ledger-db", sqlstore.IsBenign),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("ledger store opened", zap.String("driver", cfg.StoreDriver))
	return store, store, nil
}
