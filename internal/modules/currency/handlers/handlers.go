// Package handlers provides HTTP handlers for currency operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/currency"
)

// Handler handles currency HTTP requests
type Handler struct {
	converter *currency.Converter
	log       zerolog.Logger
}

// NewHandler creates a new currency handler
func NewHandler(converter *currency.Converter, log zerolog.Logger) *Handler {
	return &Handler{
		converter: converter,
		log:       log.With().Str("handler", "currency").Logger(),
	}
}

// ConvertRequest represents a request to convert an amount between currencies
type ConvertRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Date   string          `json:"date"` // 2006-01-02, optional
}

// HandleConvert handles POST /api/currency/convert
func (h *Handler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.From == "" || req.To == "" {
		http.Error(w, "from and to currencies are required", http.StatusBadRequest)
		return
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse(currency.DateLayout, req.Date)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed.UTC()
	}

	converted, err := h.converter.Convert(r.Context(), req.Amount, req.From, req.To, date)
	if err != nil {
		h.log.Warn().Err(err).Str("from", req.From).Str("to", req.To).Msg("Conversion failed")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":    req.Amount,
		"from":      req.From,
		"to":        req.To,
		"converted": converted,
	})
}

// HandleGetRate handles GET /api/currency/rates/{currency}?date=
func (h *Handler) HandleGetRate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "currency")

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(currency.DateLayout, raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed.UTC()
	}

	quote, err := h.converter.ResolveRate(r.Context(), code, date)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, quote)
}

// HandleGetPivot handles GET /api/currency/pivot
func (h *Handler) HandleGetPivot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pivot": h.converter.Pivot(),
	})
}

// writeJSON writes the standard response envelope
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// writeError maps domain errors onto HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var unsupported *domain.UnsupportedCurrencyError
	switch {
	case errors.As(err, &unsupported):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrExternalSourceUnavailable):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}
