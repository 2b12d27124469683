// Package reconciliation folds an external brokerage account into the
// ledger: filled orders become cost-basis mutations, a per-config
// watermark makes the process idempotent and resumable, and a closing
// balance check absorbs cash drift the order feed does not expose.
package reconciliation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const configColumns = `id, user_id, app_key, app_secret, access_token, last_refreshed_at`

// ConfigRepository stores brokerage configs and their watermarks
type ConfigRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewConfigRepository creates a new brokerage-config repository
func NewConfigRepository(db *sql.DB, log zerolog.Logger) *ConfigRepository {
	return &ConfigRepository{
		db:  db,
		log: log.With().Str("repo", "broker_config").Logger(),
	}
}

// Create registers a new brokerage config. The watermark starts at the
// given time; orders at or before it are never folded in.
func (r *ConfigRepository) Create(cfg *domain.BrokerConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.UserID == "" {
		return domain.NewValidationError("user_id", "required")
	}
	if cfg.AppKey == "" {
		return domain.NewValidationError("app_key", "required")
	}

	_, err := r.db.Exec(
		`INSERT INTO broker_configs (`+configColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.UserID, cfg.AppKey, cfg.AppSecret, cfg.AccessToken,
		cfg.LastRefreshedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create broker config: %v", domain.ErrPersistence, err)
	}

	r.log.Info().Str("config_id", cfg.ID).Str("user_id", cfg.UserID).Msg("Broker config registered")
	return nil
}

// GetByID returns one config or ErrNotFound
func (r *ConfigRepository) GetByID(id string) (*domain.BrokerConfig, error) {
	return scanConfig(r.db.QueryRow(
		`SELECT `+configColumns+` FROM broker_configs WHERE id = ?`, id))
}

// ListAll returns every registered config, the reconciliation job's work list
func (r *ConfigRepository) ListAll() ([]domain.BrokerConfig, error) {
	rows, err := r.db.Query(`SELECT ` + configColumns + ` FROM broker_configs ORDER BY user_id, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list broker configs: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var configs []domain.BrokerConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// ListByUser returns a user's configs
func (r *ConfigRepository) ListByUser(userID string) ([]domain.BrokerConfig, error) {
	rows, err := r.db.Query(
		`SELECT `+configColumns+` FROM broker_configs WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list broker configs for %s: %v", domain.ErrPersistence, userID, err)
	}
	defer rows.Close()

	var configs []domain.BrokerConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// AdvanceWatermark persists a new watermark inside the session that
// applied the order it belongs to, so the watermark and the order's legs
// commit or roll back together.
func (r *ConfigRepository) AdvanceWatermark(s *ledger.Session, configID string, to time.Time) error {
	tx := s.Tx()
	if tx == nil {
		return domain.ErrSessionNotActive
	}

	res, err := tx.Exec(
		`UPDATE broker_configs SET last_refreshed_at = ? WHERE id = ?`,
		to.UTC().Format(time.RFC3339), configID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to advance watermark for %s: %v", domain.ErrPersistence, configID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("broker config %s: %w", configID, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a config. The ledger accounts it fed are left in place.
func (r *ConfigRepository) Delete(userID, id string) error {
	res, err := r.db.Exec(`DELETE FROM broker_configs WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete broker config %s: %v", domain.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("broker config %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*domain.BrokerConfig, error) {
	var cfg domain.BrokerConfig
	var refreshed string
	err := row.Scan(&cfg.ID, &cfg.UserID, &cfg.AppKey, &cfg.AppSecret, &cfg.AccessToken, &refreshed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan broker config: %w", err)
	}
	if cfg.LastRefreshedAt, err = time.Parse(time.RFC3339, refreshed); err != nil {
		return nil, fmt.Errorf("invalid watermark %q: %w", refreshed, err)
	}
	return &cfg, nil
}
