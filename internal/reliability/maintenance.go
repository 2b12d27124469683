package reliability

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/ledgerd/internal/database"
)

// MaintenanceService runs periodic storage upkeep: integrity check, WAL
// checkpoint and a free-disk-space check on the data directory.
type MaintenanceService struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger
}

// NewMaintenanceService creates a maintenance service
func NewMaintenanceService(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		db:      db,
		dataDir: dataDir,
		log:     log.With().Str("service", "maintenance").Logger(),
	}
}

// Run performs one maintenance pass. An integrity failure or critically low
// disk space is returned as an error; a failed checkpoint is only logged.
func (s *MaintenanceService) Run() error {
	start := time.Now()
	s.log.Info().Msg("Starting database maintenance")

	var verdict string
	if err := s.db.Conn().QueryRow(`PRAGMA quick_check`).Scan(&verdict); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if verdict != "ok" {
		s.log.Error().Str("verdict", verdict).Msg("Database integrity check failed")
		return fmt.Errorf("database integrity check reported %q", verdict)
	}

	// Truncate the WAL so it cannot grow unbounded between checkpoints
	if _, err := s.db.Conn().Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().Dur("duration_ms", time.Since(start)).Msg("Database maintenance completed")
	return nil
}

// checkDiskSpace verifies the data directory's filesystem has headroom.
// Below 500MB the job fails so operators get a loud signal before the
// ledger stops being able to commit.
func (s *MaintenanceService) checkDiskSpace() error {
	usage, err := disk.Usage(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9
	s.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check")

	switch {
	case freeGB < 0.5:
		return fmt.Errorf("only %.2f GB free on %s", freeGB, s.dataDir)
	case freeGB < 5.0:
		s.log.Warn().Float64("free_gb", freeGB).Msg("Disk space running low")
	}

	return nil
}
