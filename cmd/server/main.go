// Package main is the entry point for ledgerd, a multi-currency position
// ledger with external brokerage reconciliation.
//
// Startup sequence:
// 1. Load configuration from environment variables (.env supported)
// 2. Initialize structured logging
// 3. Open and migrate the ledger database
// 4. Wire repositories, services and external clients
// 5. Register scheduled jobs (FX refresh, price refresh, reconciliation,
//    total-asset snapshot, off-site backup)
// 6. Start the HTTP server and wait for a shutdown signal
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/ledgerd/internal/clients/brokerage"
	"github.com/aristath/ledgerd/internal/clients/ratesource"
	"github.com/aristath/ledgerd/internal/config"
	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/modules/currency"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	"github.com/aristath/ledgerd/internal/modules/pricing"
	"github.com/aristath/ledgerd/internal/modules/reconciliation"
	"github.com/aristath/ledgerd/internal/reliability"
	"github.com/aristath/ledgerd/internal/scheduler"
	"github.com/aristath/ledgerd/internal/server"
	"github.com/aristath/ledgerd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting ledgerd")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	log.Info().Str("path", db.Path()).Msg("Database ready")

	// Ledger core
	store := ledger.NewStore(db, log)
	accounts := ledger.NewAccountRepository(db.Conn(), log)
	txns := ledger.NewTransactionRepository(db.Conn(), log)
	ledgerSvc := ledger.NewService(store, accounts, txns, log)

	// Currency conversion over the external rate source
	rateClient := ratesource.NewClient(ratesource.Config{
		BaseURL:      cfg.RateSourceURL,
		FallbackRate: cfg.RateSourceFallback,
	}, log)
	rates := currency.NewRateRepository(db.Conn(), log)
	converter := currency.NewConverter(rates, rateClient, cfg.PivotCurrency, cfg.SupportedCurrencies, log)

	// Brokerage reconciliation
	brokerFactory := brokerage.NewFactory(log)
	configs := reconciliation.NewConfigRepository(db.Conn(), log)
	reconSvc := reconciliation.NewService(configs, ledgerSvc, converter, brokerFactory, log)

	// Pricing and valuation
	quotes := reconciliation.NewBrokerQuoteSource(configs, brokerFactory, log)
	trace := pricing.NewTraceRepository(db.Conn(), log)
	pricingSvc := pricing.NewService(accounts, trace, quotes, converter, log)

	// Scheduled jobs
	type jobEntry struct {
		schedule string
		job      scheduler.Job
	}
	jobs := []jobEntry{
		{cfg.FXRefreshSchedule, scheduler.NewFXRefreshJob(converter, rates, cfg.SupportedCurrencies, cfg.RateRetentionDays, log)},
		{cfg.PriceRefreshSchedule, scheduler.NewPriceRefreshJob(pricingSvc)},
		{cfg.ReconcileSchedule, scheduler.NewReconcileJob(reconSvc)},
		{cfg.SnapshotSchedule, scheduler.NewSnapshotJob(pricingSvc)},
		{cfg.MaintenanceSchedule, scheduler.NewMaintenanceJob(reliability.NewMaintenanceService(db, cfg.DataDir, log))},
	}

	if cfg.BackupEnabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backupSvc := reliability.NewBackupService(db, s3Client, cfg.DataDir, log)
		jobs = append(jobs, jobEntry{cfg.BackupSchedule, scheduler.NewBackupJob(backupSvc, cfg.BackupRetentionDays, log)})
	} else {
		log.Info().Msg("Off-site backups disabled, no S3 bucket configured")
	}

	sched := scheduler.New(log)
	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Fatal().Err(err).Str("schedule", entry.schedule).Msg("Failed to register job")
		}
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:            log,
		Cfg:            cfg,
		DB:             db,
		Ledger:         ledgerSvc,
		Converter:      converter,
		Pricing:        pricingSvc,
		Reconciliation: reconSvc,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("ledgerd is up")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("ledgerd stopped")
}
