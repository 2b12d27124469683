// Package handlers provides HTTP handlers for brokerage reconciliation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/reconciliation"
)

// Handler handles reconciliation HTTP requests
type Handler struct {
	service *reconciliation.Service
	log     zerolog.Logger
}

// NewHandler creates a new reconciliation handler
func NewHandler(service *reconciliation.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "reconciliation").Logger(),
	}
}

// RegisterConfigRequest carries credentials for one brokerage account.
// LastRefreshedAt optionally backdates the reconciliation watermark so
// historical orders get folded in; empty means "from now".
type RegisterConfigRequest struct {
	UserID          string `json:"user_id"`
	AppKey          string `json:"app_key"`
	AppSecret       string `json:"app_secret"`
	AccessToken     string `json:"access_token"`
	LastRefreshedAt string `json:"last_refreshed_at"`
}

// HandleRegisterConfig handles POST /api/reconciliation/configs.
// Registration bootstraps the user's cash and position accounts from the
// brokerage's current holdings.
func (h *Handler) HandleRegisterConfig(w http.ResponseWriter, r *http.Request) {
	var req RegisterConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg := &domain.BrokerConfig{
		UserID:      req.UserID,
		AppKey:      req.AppKey,
		AppSecret:   req.AppSecret,
		AccessToken: req.AccessToken,
	}
	if req.LastRefreshedAt != "" {
		watermark, err := time.Parse(time.RFC3339, req.LastRefreshedAt)
		if err != nil {
			http.Error(w, "last_refreshed_at must be RFC3339", http.StatusBadRequest)
			return
		}
		cfg.LastRefreshedAt = watermark.UTC()
	}

	if err := h.service.Register(r.Context(), cfg); err != nil {
		h.log.Warn().Err(err).Str("user_id", req.UserID).Msg("Config registration failed")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, cfg)
}

// HandleListConfigs handles GET /api/reconciliation/configs?user_id=
func (h *Handler) HandleListConfigs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	configs, err := h.service.Configs().ListByUser(userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

// HandleDeleteConfig handles DELETE /api/reconciliation/configs/{id}?user_id=
func (h *Handler) HandleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")

	if err := h.service.Configs().Delete(userID, id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// HandleReconcileConfig handles POST /api/reconciliation/configs/{id}/run
func (h *Handler) HandleReconcileConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := h.service.Configs().GetByID(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.service.Reconcile(r.Context(), cfg); err != nil {
		h.log.Warn().Err(err).Str("config_id", id).Msg("Reconciliation run failed")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"config_id":         cfg.ID,
		"last_refreshed_at": cfg.LastRefreshedAt.UTC().Format(time.RFC3339),
	})
}

// HandleReconcileAll handles POST /api/reconciliation/run
func (h *Handler) HandleReconcileAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReconcileAll(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Reconcile-all run failed")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "completed"})
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
