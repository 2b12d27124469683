package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// accountColumns avoids SELECT * so schema changes break loudly.
// Column order must match scanAccount.
const accountColumns = `id, user_id, symbol, type, parent_id, description, quantity, cost, market_price, currency, is_active`

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// either standalone or inside a session
type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// AccountRepository handles account database operations. All writes demand
// an open Session; reads run on short-lived independent connections.
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log.With().Str("repo", "account").Logger(),
	}
}

// Create inserts a new account row within the session
func (r *AccountRepository) Create(s *Session, a *domain.Account) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	query := `
		INSERT INTO accounts
		(id, user_id, symbol, type, parent_id, description, quantity, cost, market_price, currency, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.tx.Exec(query,
		a.ID,
		a.UserID,
		a.Symbol,
		string(a.Type),
		nullString(a.ParentID),
		nullString(a.Description),
		a.Quantity.String(),
		a.Cost.String(),
		a.MarketPrice.String(),
		a.Currency,
		a.State == domain.AccountStateActive,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create account %s: %v", domain.ErrPersistence, a.ID, err)
	}

	r.log.Info().
		Str("account_id", a.ID).
		Str("user_id", a.UserID).
		Str("symbol", a.Symbol).
		Str("type", string(a.Type)).
		Msg("Account created")

	return nil
}

// GetByID retrieves an account by id (short read, no session)
func (r *AccountRepository) GetByID(id string) (*domain.Account, error) {
	return getAccount(r.db, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// GetByIDInSession retrieves an account through the session's transaction so
// the read sees the session's own uncommitted writes
func (r *AccountRepository) GetByIDInSession(s *Session, id string) (*domain.Account, error) {
	if !s.active() {
		return nil, domain.ErrSessionNotActive
	}
	return getAccount(s.tx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// GetActiveBySymbol retrieves the active account with the given per-user symbol
func (r *AccountRepository) GetActiveBySymbol(userID, symbol string) (*domain.Account, error) {
	return getAccount(r.db,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND symbol = ? AND is_active = 1`,
		userID, symbol)
}

// ListByUser returns all active accounts for a user ordered by symbol
func (r *AccountRepository) ListByUser(userID string) ([]domain.Account, error) {
	return listAccounts(r.db,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND is_active = 1 ORDER BY symbol`,
		userID)
}

// ListActiveByType returns all active accounts of one type across all users.
// Used by the market-price refresh to enumerate stock accounts.
func (r *AccountRepository) ListActiveByType(accountType domain.AccountType) ([]domain.Account, error) {
	return listAccounts(r.db,
		`SELECT `+accountColumns+` FROM accounts WHERE type = ? AND is_active = 1 ORDER BY user_id, symbol`,
		string(accountType))
}

// ListActiveUserIDs returns the distinct user ids owning at least one
// active account. Used by the portfolio snapshot to enumerate users.
func (r *AccountRepository) ListActiveUserIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT user_id FROM accounts WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list user ids: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// UpdatePosition writes the account's recomputed quantity, cost and state.
// This is called exclusively by the cost-basis mutation path.
func (r *AccountRepository) UpdatePosition(s *Session, id string, quantity, cost decimal.Decimal, state domain.AccountState) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	res, err := s.tx.Exec(
		`UPDATE accounts SET quantity = ?, cost = ?, is_active = ? WHERE id = ?`,
		quantity.String(), cost.String(), state == domain.AccountStateActive, id,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update position for account %s: %v", domain.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdateFields patches narrow descriptive fields. Quantity, cost, currency
// and symbol are deliberately not updatable here.
func (r *AccountRepository) UpdateFields(s *Session, id string, patch domain.AccountPatch) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	current, err := getAccount(s.tx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}

	accountType := current.Type
	if patch.Type != nil {
		accountType = *patch.Type
	}
	parentID := current.ParentID
	if patch.ParentID != nil {
		parentID = *patch.ParentID
	}
	description := current.Description
	if patch.Description != nil {
		description = *patch.Description
	}

	_, err = s.tx.Exec(
		`UPDATE accounts SET type = ?, parent_id = ?, description = ? WHERE id = ?`,
		string(accountType), nullString(parentID), nullString(description), id,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update account %s: %v", domain.ErrPersistence, id, err)
	}
	return nil
}

// UpdateMarketPrice updates only the last observed unit price. Market price
// is valuation data, independent of the cost-basis discipline, so it does
// not require a mutation session.
func (r *AccountRepository) UpdateMarketPrice(id string, price decimal.Decimal) error {
	res, err := r.db.Exec(`UPDATE accounts SET market_price = ? WHERE id = ?`, price.String(), id)
	if err != nil {
		return fmt.Errorf("%w: failed to update market price for account %s: %v", domain.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SoftDelete marks the account inactive. Deleting an already-inactive
// account is a no-op success; a missing row is ErrNotFound.
func (r *AccountRepository) SoftDelete(s *Session, userID, id string) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	res, err := s.tx.Exec(`UPDATE accounts SET is_active = 0 WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("%w: failed to soft-delete account %s: %v", domain.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}

	r.log.Info().Str("account_id", id).Str("user_id", userID).Msg("Account soft-deleted")
	return nil
}

func getAccount(q querier, query string, args ...interface{}) (*domain.Account, error) {
	row := q.QueryRow(query, args...)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return a, nil
}

func listAccounts(q querier, query string, args ...interface{}) ([]domain.Account, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query accounts: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccountFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a                     domain.Account
		accountType           string
		parentID, description sql.NullString
		quantity, cost        string
		marketPrice           sql.NullString
		isActive              bool
	)

	err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &accountType, &parentID, &description,
		&quantity, &cost, &marketPrice, &a.Currency, &isActive)
	if err != nil {
		return nil, err
	}

	a.Type = domain.AccountType(accountType)
	a.ParentID = parentID.String
	a.Description = description.String

	if a.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	if a.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("invalid cost %q: %w", cost, err)
	}
	if marketPrice.Valid && marketPrice.String != "" {
		if a.MarketPrice, err = decimal.NewFromString(marketPrice.String); err != nil {
			return nil, fmt.Errorf("invalid market price %q: %w", marketPrice.String, err)
		}
	}

	a.State = domain.AccountStateClosed
	if isActive {
		a.State = domain.AccountStateActive
	}
	return &a, nil
}

func scanAccountFromRows(rows *sql.Rows) (*domain.Account, error) {
	return scanAccount(rows)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
