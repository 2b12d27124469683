package ledger

import (
	"errors"
	"fmt"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// costScale is the number of fractional digits the weighted-average cost is
// rounded to, half-up
const costScale = 8

// Service implements the cost-basis mutation algorithm and the account
// creation protocol. ApplyTransaction is the only code path permitted to
// change an account's quantity or cost after creation.
type Service struct {
	store    *Store
	accounts *AccountRepository
	txns     *TransactionRepository
	log      zerolog.Logger
}

// NewService creates a ledger service
func NewService(store *Store, accounts *AccountRepository, txns *TransactionRepository, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		txns:     txns,
		log:      log.With().Str("service", "ledger").Logger(),
	}
}

// Store exposes the session factory for callers that compose several
// mutations into one unit of work
func (s *Service) Store() *Store {
	return s.store
}

// Accounts exposes the account repository for read paths
func (s *Service) Accounts() *AccountRepository {
	return s.accounts
}

// Transactions exposes the transaction repository for read paths
func (s *Service) Transactions() *TransactionRepository {
	return s.txns
}

// validateTransaction checks a proposed transaction before any state is
// touched. Zero-quantity transactions are meaningless and rejected.
func validateTransaction(t *domain.Transaction) error {
	if t == nil {
		return domain.NewValidationError("transaction", "required")
	}
	if t.UserID == "" {
		return domain.NewValidationError("user_id", "required")
	}
	if t.AccountID == "" {
		return domain.NewValidationError("account_id", "required")
	}
	if !t.Direction.Valid() {
		return domain.NewValidationError("direction", "must be 0 (increase) or 1 (decrease)")
	}
	if !t.Quantity.IsPositive() {
		return domain.NewValidationError("quantity", "must be greater than zero")
	}
	if t.Price.IsNegative() {
		return domain.NewValidationError("price", "must not be negative")
	}
	if t.Date.IsZero() {
		return domain.NewValidationError("date", "required")
	}
	return nil
}

// ApplyTransaction recomputes the account's quantity and weighted-average
// cost for one signed transaction and appends the transaction record, all
// within the given session.
//
// Increase: q1 = q0 + qt, c1 = (q0*c0 + qt*pt) / q1.
// Decrease: q1 = q0 - qt; oversell (q1 < 0) fails with no mutation; at
// exactly zero the cost resets and the account transitions to Closed.
// Cost is rounded half-up to 8 fractional digits. Market price is never
// touched here.
func (s *Service) ApplyTransaction(session *Session, t *domain.Transaction) (*domain.Account, error) {
	if !session.active() {
		return nil, domain.ErrSessionNotActive
	}
	if err := validateTransaction(t); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByIDInSession(session, t.AccountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != t.UserID {
		// Do not leak other users' account ids
		return nil, fmt.Errorf("account %s: %w", t.AccountID, domain.ErrNotFound)
	}

	q0, c0 := account.Quantity, account.Cost
	qt, pt := t.Quantity, t.Price

	var q1, c1 decimal.Decimal
	switch t.Direction {
	case domain.DirectionDecrease:
		q1 = q0.Sub(qt)
		if q1.IsNegative() {
			return nil, &domain.InsufficientQuantityError{
				AccountID: account.ID,
				Held:      q0.String(),
				Requested: qt.String(),
			}
		}
		if q1.IsZero() {
			c1 = decimal.Zero
		} else {
			c1 = q0.Mul(c0).Sub(qt.Mul(pt)).Div(q1).Round(costScale)
		}

	case domain.DirectionIncrease:
		q1 = q0.Add(qt)
		c1 = q0.Mul(c0).Add(qt.Mul(pt)).Div(q1).Round(costScale)
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if err := s.txns.Create(session, t); err != nil {
		return nil, err
	}

	state := domain.AccountStateClosed
	if q1.IsPositive() {
		state = domain.AccountStateActive
	}
	if err := s.accounts.UpdatePosition(session, account.ID, q1, c1, state); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("account_id", account.ID).
		Str("direction", fmt.Sprintf("%d", t.Direction)).
		Str("quantity", q1.String()).
		Str("cost", c1.String()).
		Msg("Applied transaction")

	account.Quantity = q1
	account.Cost = c1
	account.State = state
	return account, nil
}

// CreateAccountSpec describes a new account. Quantity and cost are absent:
// a non-group account starts empty and receives its economic state through
// the opening transaction in the same session.
type CreateAccountSpec struct {
	ID          string
	UserID      string
	Symbol      string
	Type        domain.AccountType
	ParentID    string
	Description string
	Currency    string
}

// CreateAccountWithOpeningTransaction creates an account and applies its
// opening transaction as one causally-linked unit of work. Group accounts
// skip the opening mutation. The symbol must be unique among the user's
// active accounts.
func (s *Service) CreateAccountWithOpeningTransaction(session *Session, spec CreateAccountSpec, opening *domain.Transaction) (*domain.Account, error) {
	if !session.active() {
		return nil, domain.ErrSessionNotActive
	}
	if spec.UserID == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}
	if spec.Currency == "" && spec.Type != domain.AccountTypeGroup {
		return nil, domain.NewValidationError("currency", "required")
	}

	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	if spec.Symbol == "" {
		spec.Symbol = spec.ID
	}

	// Uniqueness among active accounts, checked inside the session so a
	// just-created sibling in the same unit of work is seen
	existing, err := getAccount(session.tx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND symbol = ? AND is_active = 1`,
		spec.UserID, spec.Symbol)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, &domain.DuplicateSymbolError{UserID: spec.UserID, Symbol: spec.Symbol}
	}

	account := &domain.Account{
		ID:          spec.ID,
		UserID:      spec.UserID,
		Symbol:      spec.Symbol,
		Type:        spec.Type,
		ParentID:    spec.ParentID,
		Description: spec.Description,
		Quantity:    decimal.Zero,
		Cost:        decimal.Zero,
		Currency:    spec.Currency,
		State:       domain.AccountStateActive,
	}
	if err := s.accounts.Create(session, account); err != nil {
		return nil, err
	}

	if spec.Type == domain.AccountTypeGroup {
		return account, nil
	}

	if opening == nil {
		return nil, domain.NewValidationError("opening", "non-group accounts require an opening transaction")
	}
	opening.UserID = spec.UserID
	opening.AccountID = account.ID
	if opening.Currency == "" {
		opening.Currency = spec.Currency
	}

	return s.ApplyTransaction(session, opening)
}

// SoftDeleteAccount closes its own short session around the soft delete
func (s *Service) SoftDeleteAccount(userID, accountID string) error {
	if userID == "" || accountID == "" {
		return domain.NewValidationError("user_id/account_id", "required")
	}
	return s.store.WithSession(func(session *Session) error {
		return s.accounts.SoftDelete(session, userID, accountID)
	})
}

// UpdateAccountFields patches descriptive fields in its own session.
// Quantity, cost, currency and symbol cannot be changed through here.
func (s *Service) UpdateAccountFields(userID, accountID string, patch domain.AccountPatch) error {
	if userID == "" || accountID == "" {
		return domain.NewValidationError("user_id/account_id", "required")
	}

	account, err := s.accounts.GetByID(accountID)
	if err != nil {
		return err
	}
	if account.UserID != userID {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}

	return s.store.WithSession(func(session *Session) error {
		return s.accounts.UpdateFields(session, accountID, patch)
	})
}

// ListAccounts returns the user's active accounts
func (s *Service) ListAccounts(userID string) ([]domain.Account, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}
	return s.accounts.ListByUser(userID)
}
