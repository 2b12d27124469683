package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// transactionColumns column order must match scanTransaction
const transactionColumns = `id, user_id, account_id, description, date, direction, quantity, price, currency`

// TransactionFilter narrows history queries
type TransactionFilter struct {
	AccountID string
	StartDate *time.Time
	EndDate   *time.Time
	PageIndex int
	PageSize  int
}

// TransactionPage is one page of transaction history
type TransactionPage struct {
	Transactions []domain.Transaction `json:"transactions"`
	PageIndex    int                  `json:"page_index"`
	PageSize     int                  `json:"page_size"`
	TotalCount   int                  `json:"total_count"`
	TotalPages   int                  `json:"total_pages"`
}

// TransactionRepository handles transaction database operations.
// Transactions are append-only history: Update and Delete edit the log but
// never recompute the owning account's quantity or cost.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

// Create appends a transaction row within the session
func (r *TransactionRepository) Create(s *Session, t *domain.Transaction) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	query := `
		INSERT INTO transactions
		(id, user_id, account_id, description, date, direction, quantity, price, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.tx.Exec(query,
		t.ID,
		t.UserID,
		t.AccountID,
		nullString(t.Description),
		t.Date.UTC().Format(time.RFC3339),
		int(t.Direction),
		t.Quantity.String(),
		t.Price.String(),
		t.Currency,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create transaction %s: %v", domain.ErrPersistence, t.ID, err)
	}
	return nil
}

// GetByID retrieves a transaction by id
func (r *TransactionRepository) GetByID(id string) (*domain.Transaction, error) {
	row := r.db.QueryRow(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return t, nil
}

// ListByUser returns a page of the user's transaction history, newest first
func (r *TransactionRepository) ListByUser(userID string, filter TransactionFilter) (*TransactionPage, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}
	if filter.PageIndex < 0 {
		filter.PageIndex = 0
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}

	conditions := []string{"user_id = ?"}
	args := []interface{}{userID}

	if filter.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.StartDate != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, filter.StartDate.UTC().Format(time.RFC3339))
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, filter.EndDate.UTC().Format(time.RFC3339))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: failed to count transactions: %v", domain.ErrPersistence, err)
	}

	args = append(args, filter.PageSize, filter.PageIndex*filter.PageSize)
	rows, err := r.db.Query(
		`SELECT `+transactionColumns+` FROM transactions WHERE `+where+` ORDER BY date DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transactions: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return &TransactionPage{
		Transactions: transactions,
		PageIndex:    filter.PageIndex,
		PageSize:     filter.PageSize,
		TotalCount:   total,
		TotalPages:   (total + filter.PageSize - 1) / filter.PageSize,
	}, nil
}

// Update edits a historical transaction's recorded fields. The owning
// account's quantity and cost are NOT recomputed: the ledger is append-only
// and edits never rewind it.
func (r *TransactionRepository) Update(s *Session, userID string, t *domain.Transaction) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	var owner string
	err := s.tx.QueryRow(`SELECT user_id FROM transactions WHERE id = ?`, t.ID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", t.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to load transaction %s: %v", domain.ErrPersistence, t.ID, err)
	}
	if owner != userID {
		return fmt.Errorf("transaction %s: %w", t.ID, domain.ErrNotFound)
	}

	_, err = s.tx.Exec(
		`UPDATE transactions SET description = ?, date = ?, direction = ?, quantity = ?, price = ?, currency = ? WHERE id = ?`,
		nullString(t.Description),
		t.Date.UTC().Format(time.RFC3339),
		int(t.Direction),
		t.Quantity.String(),
		t.Price.String(),
		t.Currency,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update transaction %s: %v", domain.ErrPersistence, t.ID, err)
	}
	return nil
}

// Delete removes a transaction from the log. As with Update, the owning
// account is not touched.
func (r *TransactionRepository) Delete(s *Session, userID, id string) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}

	res, err := s.tx.Exec(`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete transaction %s: %v", domain.ErrPersistence, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountByAccount returns how many transactions reference an account.
// Used by tests to verify oversells leave the log untouched.
func (r *TransactionRepository) CountByAccount(accountID string) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: failed to count transactions: %v", domain.ErrPersistence, err)
	}
	return n, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t               domain.Transaction
		description     sql.NullString
		date            string
		direction       int
		quantity, price string
	)

	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &description, &date, &direction, &quantity, &price, &t.Currency)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Direction = domain.Direction(direction)

	if t.Date, err = time.Parse(time.RFC3339, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return &t, nil
}
