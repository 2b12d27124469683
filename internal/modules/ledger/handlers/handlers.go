// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/ledger"
)

// Handler handles ledger HTTP requests
type Handler struct {
	ledger *ledger.Service
	log    zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service, log zerolog.Logger) *Handler {
	return &Handler{
		ledger: service,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

// TransactionRequest is the wire form of a proposed transaction
type TransactionRequest struct {
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	Direction   int             `json:"direction"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
}

func (tr *TransactionRequest) toTransaction() *domain.Transaction {
	return &domain.Transaction{
		UserID:      tr.UserID,
		AccountID:   tr.AccountID,
		Description: tr.Description,
		Date:        tr.Date,
		Direction:   domain.Direction(tr.Direction),
		Quantity:    tr.Quantity,
		Price:       tr.Price,
		Currency:    tr.Currency,
	}
}

// CreateAccountRequest carries a new account plus its opening transaction.
// Opening may be omitted only for group accounts.
type CreateAccountRequest struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Symbol      string              `json:"symbol"`
	Type        string              `json:"type"`
	ParentID    string              `json:"parent_id"`
	Description string              `json:"description"`
	Currency    string              `json:"currency"`
	Opening     *TransactionRequest `json:"opening"`
}

// HandleCreateAccount handles POST /api/ledger/accounts
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	spec := ledger.CreateAccountSpec{
		ID:          req.ID,
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Type:        domain.AccountType(req.Type),
		ParentID:    req.ParentID,
		Description: req.Description,
		Currency:    req.Currency,
	}

	var opening *domain.Transaction
	if req.Opening != nil {
		opening = req.Opening.toTransaction()
	}

	var account *domain.Account
	err := h.ledger.Store().WithSession(func(session *ledger.Session) error {
		created, err := h.ledger.CreateAccountWithOpeningTransaction(session, spec, opening)
		if err != nil {
			return err
		}
		account = created
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", req.UserID).Msg("Account creation failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// HandleListAccounts handles GET /api/ledger/accounts?user_id=
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	accounts, err := h.ledger.ListAccounts(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// HandleGetAccount handles GET /api/ledger/accounts/{id}
func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := h.ledger.Accounts().GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// UpdateAccountRequest patches descriptive account fields
type UpdateAccountRequest struct {
	UserID      string  `json:"user_id"`
	Type        *string `json:"type"`
	ParentID    *string `json:"parent_id"`
	Description *string `json:"description"`
}

// HandleUpdateAccount handles PATCH /api/ledger/accounts/{id}
func (h *Handler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	patch := domain.AccountPatch{
		ParentID:    req.ParentID,
		Description: req.Description,
	}
	if req.Type != nil {
		accountType := domain.AccountType(*req.Type)
		patch.Type = &accountType
	}

	if err := h.ledger.UpdateAccountFields(req.UserID, id, patch); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.ledger.Accounts().GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// HandleDeleteAccount handles DELETE /api/ledger/accounts/{id}?user_id=
func (h *Handler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")

	if err := h.ledger.SoftDeleteAccount(userID, id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// HandleApplyTransaction handles POST /api/ledger/transactions
func (h *Handler) HandleApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	txn := req.toTransaction()

	var account *domain.Account
	err := h.ledger.Store().WithSession(func(session *ledger.Session) error {
		updated, err := h.ledger.ApplyTransaction(session, txn)
		if err != nil {
			return err
		}
		account = updated
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("account_id", req.AccountID).Msg("Transaction rejected")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction": txn,
		"account":     account,
	})
}

// HandleListTransactions handles GET /api/ledger/transactions with filters
// user_id (required), account_id, start, end, page, page_size
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := query.Get("user_id")

	filter := ledger.TransactionFilter{
		AccountID: query.Get("account_id"),
	}
	if start, ok := parseDate(query.Get("start")); ok {
		filter.StartDate = &start
	}
	if end, ok := parseDate(query.Get("end")); ok {
		filter.EndDate = &end
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil && page > 0 {
		filter.PageIndex = page
	}
	if size, err := strconv.Atoi(query.Get("page_size")); err == nil && size > 0 {
		filter.PageSize = size
	}

	page, err := h.ledger.Transactions().ListByUser(userID, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// HandleUpdateTransaction handles PUT /api/ledger/transactions/{id}.
// The edit rewrites the historical record only; the owning account's
// quantity and cost are not recomputed.
func (h *Handler) HandleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	txn := req.toTransaction()
	txn.ID = id

	err := h.ledger.Store().WithSession(func(session *ledger.Session) error {
		return h.ledger.Transactions().Update(session, req.UserID, txn)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// HandleDeleteTransaction handles DELETE /api/ledger/transactions/{id}.
// Like updates, deletion leaves the account's position untouched.
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")

	err := h.ledger.Store().WithSession(func(session *ledger.Session) error {
		return h.ledger.Transactions().Delete(session, userID, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// parseDate accepts RFC3339 or a bare 2006-01-02 date
func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
