package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ledger core. Callers match with errors.Is; the
// typed errors below carry detail and are matched with errors.As.
var (
	// ErrNotFound indicates a referenced account, transaction or config is absent
	ErrNotFound = errors.New("not found")

	// ErrSessionNotActive indicates a ledger mutation was attempted outside
	// an open ledger session
	ErrSessionNotActive = errors.New("ledger session not active")

	// ErrExternalSourceUnavailable indicates the rate or brokerage
	// collaborator failed; the operation is retryable
	ErrExternalSourceUnavailable = errors.New("external source unavailable")

	// ErrPersistence indicates a storage-layer failure during commit
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError reports missing or malformed input. It never accompanies
// a state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateSymbolError reports a per-user symbol uniqueness violation on
// account creation
type DuplicateSymbolError struct {
	UserID string
	Symbol string
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("account symbol %q already exists for user %s", e.Symbol, e.UserID)
}

// InsufficientQuantityError reports an oversell: a decrease larger than the
// account's current holding. No mutation is applied.
type InsufficientQuantityError struct {
	AccountID string
	Held      string
	Requested string
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("account %s holds %s, cannot decrease by %s", e.AccountID, e.Held, e.Requested)
}

// UnsupportedCurrencyError reports a conversion involving a currency outside
// the configured supported set
type UnsupportedCurrencyError struct {
	Currency string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("currency %q is not supported", e.Currency)
}
