// Package handlers provides HTTP handlers for pricing and valuation queries.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/pricing"
)

// Handler handles pricing HTTP requests
type Handler struct {
	service *pricing.Service
	log     zerolog.Logger
}

// NewHandler creates a new pricing handler
func NewHandler(service *pricing.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "pricing").Logger(),
	}
}

// HandleGetTrace handles GET /api/pricing/traces/{accountID}?start=&end=
func (h *Handler) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	start, end, ok := parseWindow(w, r)
	if !ok {
		return
	}

	points, err := h.service.Trace().Series(accountID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"points":     points,
		"count":      len(points),
	})
}

// HandleGetTotalAssets handles GET /api/pricing/total-assets/{userID}?start=&end=
func (h *Handler) HandleGetTotalAssets(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	start, end, ok := parseWindow(w, r)
	if !ok {
		return
	}

	points, err := h.service.TotalAssetSeries(userID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"points":  points,
		"count":   len(points),
	})
}

// HandleGetTotalValue handles GET /api/pricing/total-value/{userID}.
// The valuation is computed live, in the pivot currency.
func (h *Handler) HandleGetTotalValue(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	total, err := h.service.UserTotalValue(r.Context(), userID, time.Now().UTC())
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("Total value computation failed")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"total":   total,
	})
}

// HandleRefreshPrices handles POST /api/pricing/refresh
func (h *Handler) HandleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshMarketPrices(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Manual price refresh failed")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "refreshed"})
}

// parseWindow reads optional start/end query dates. A missing bound leaves
// the window open on that side.
func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var start, end time.Time
	query := r.URL.Query()

	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"start", &start}, {"end", &end}} {
		raw := query.Get(bound.name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			if parsed, err = time.Parse(time.RFC3339, raw); err != nil {
				http.Error(w, bound.name+" must be YYYY-MM-DD or RFC3339", http.StatusBadRequest)
				return start, end, false
			}
		}
		*bound.dst = parsed.UTC()
	}

	return start, end, true
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

	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
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
