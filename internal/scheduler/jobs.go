package scheduler

import (
	"context"
	"time"

	"github.com/aristath/ledgerd/internal/modules/currency"
	"github.com/aristath/ledgerd/internal/modules/pricing"
	"github.com/aristath/ledgerd/internal/modules/reconciliation"
	"github.com/aristath/ledgerd/internal/reliability"
	"github.com/rs/zerolog"
)

// FXRefreshJob purges stale cache entries and pre-warms today's rates
// for every supported non-pivot currency
type FXRefreshJob struct {
	converter     *currency.Converter
	rates         *currency.RateRepository
	currencies    []string
	retentionDays int
	log           zerolog.Logger
}

// NewFXRefreshJob creates the daily FX refresh job
func NewFXRefreshJob(converter *currency.Converter, rates *currency.RateRepository, currencies []string, retentionDays int, log zerolog.Logger) *FXRefreshJob {
	return &FXRefreshJob{
		converter:     converter,
		rates:         rates,
		currencies:    currencies,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "fx_refresh").Logger(),
	}
}

func (j *FXRefreshJob) Name() string { return "fx_refresh" }

func (j *FXRefreshJob) Run() error {
	// Purge first; failure is logged and non-fatal
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
	if purged, err := j.rates.PurgeOlderThan(cutoff); err != nil {
		j.log.Warn().Err(err).Msg("Failed to purge stale exchange rates")
	} else if purged > 0 {
		j.log.Info().Int64("purged", purged).Msg("Purged stale exchange rates")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	var firstErr error
	for _, cur := range j.currencies {
		if cur == j.converter.Pivot() {
			continue
		}
		if _, err := j.converter.ResolveRate(ctx, cur, now); err != nil {
			j.log.Error().Err(err).Str("currency", cur).Msg("Failed to refresh rate")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PriceRefreshJob updates market prices on active security accounts
type PriceRefreshJob struct {
	pricing *pricing.Service
}

// NewPriceRefreshJob creates the market-price refresh job
func NewPriceRefreshJob(svc *pricing.Service) *PriceRefreshJob {
	return &PriceRefreshJob{pricing: svc}
}

func (j *PriceRefreshJob) Name() string { return "price_refresh" }

func (j *PriceRefreshJob) Run() error {
	return j.pricing.RefreshMarketPrices(context.Background())
}

// ReconcileJob folds new brokerage orders into the ledger for every
// registered config
type ReconcileJob struct {
	reconciliation *reconciliation.Service
}

// NewReconcileJob creates the brokerage reconciliation job
func NewReconcileJob(svc *reconciliation.Service) *ReconcileJob {
	return &ReconcileJob{reconciliation: svc}
}

func (j *ReconcileJob) Name() string { return "reconcile" }

func (j *ReconcileJob) Run() error {
	return j.reconciliation.ReconcileAll(context.Background())
}

// SnapshotJob records each user's total portfolio value as one
// price-trace observation
type SnapshotJob struct {
	pricing *pricing.Service
}

// NewSnapshotJob creates the daily valuation snapshot job
func NewSnapshotJob(svc *pricing.Service) *SnapshotJob {
	return &SnapshotJob{pricing: svc}
}

func (j *SnapshotJob) Name() string { return "total_asset_snapshot" }

func (j *SnapshotJob) Run() error {
	now := time.Now().UTC()
	if err := j.pricing.RecordSecurityTraces(now); err != nil {
		return err
	}
	return j.pricing.SnapshotTotalAssets(context.Background(), now)
}

// BackupJob ships a database snapshot off-site and rotates old archives
type BackupJob struct {
	backup        *reliability.BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates the daily off-site backup job
func NewBackupJob(backup *reliability.BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

func (j *BackupJob) Name() string { return "backup" }

func (j *BackupJob) Run() error {
	ctx := context.Background()
	if err := j.backup.CreateAndUpload(ctx); err != nil {
		return err
	}
	if err := j.backup.RotateOldBackups(ctx, j.retentionDays); err != nil {
		// The backup itself succeeded
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// MaintenanceJob runs periodic database and disk upkeep
type MaintenanceJob struct {
	maintenance *reliability.MaintenanceService
}

// NewMaintenanceJob creates the database maintenance job
func NewMaintenanceJob(maintenance *reliability.MaintenanceService) *MaintenanceJob {
	return &MaintenanceJob{maintenance: maintenance}
}

func (j *MaintenanceJob) Name() string { return "maintenance" }

func (j *MaintenanceJob) Run() error {
	return j.maintenance.Run()
}
