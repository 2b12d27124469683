// Package ledger implements the account/transaction store and the cost-basis
// mutation path that keeps them consistent.
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
)

// Store owns the ledger database handle and hands out sessions
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a ledger store
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "ledger_store").Logger(),
	}
}

// Conn returns the underlying connection for read-only queries.
// Reads need not participate in a mutation session.
func (st *Store) Conn() *sql.DB {
	return st.db.Conn()
}

// Session is the transaction boundary for ledger mutations: one underlying
// database transaction that commits as a whole or not at all. Sessions do
// not nest; every write method on the repositories demands an open session.
type Session struct {
	tx   *sql.Tx
	done bool
}

// OpenSession begins a new mutation session
func (st *Store) OpenSession() (*Session, error) {
	tx, err := st.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin ledger session: %v", domain.ErrPersistence, err)
	}
	return &Session{tx: tx}, nil
}

// active reports whether the session can still accept mutations
func (s *Session) active() bool {
	return s != nil && s.tx != nil && !s.done
}

// Tx exposes the session's transaction so collaborating stores can join
// the same unit of work. Returns nil once the session is closed.
func (s *Session) Tx() *sql.Tx {
	if !s.active() {
		return nil
	}
	return s.tx
}

// Close ends the session: commit when cause is nil, rollback otherwise.
// Closing an already-closed session is an error; callers own the session's
// lifecycle exactly once.
func (s *Session) Close(cause error) error {
	if !s.active() {
		return domain.ErrSessionNotActive
	}
	s.done = true

	if cause != nil {
		if err := s.tx.Rollback(); err != nil {
			return fmt.Errorf("%w: rollback failed: %v", domain.ErrPersistence, err)
		}
		return nil
	}

	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit failed: %v", domain.ErrPersistence, err)
	}
	return nil
}

// WithSession runs fn inside a single session, committing on a nil return
// and rolling back on error or panic.
func (st *Store) WithSession(fn func(*Session) error) (err error) {
	s, err := st.OpenSession()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = s.Close(fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err = fn(s); err != nil {
		if cerr := s.Close(err); cerr != nil {
			st.log.Error().Err(cerr).Msg("Failed to roll back ledger session")
		}
		return err
	}
	return s.Close(nil)
}
