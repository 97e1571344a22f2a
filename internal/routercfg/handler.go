package routercfg

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the router configuration to privileged callers.
type Handler struct {
	store Store
}

// NewHandler creates a new router config handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers config routes (admin only).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/router-config", h.Get)
	r.Patch("/router-config", h.Patch)
}

// Get handles GET /router-config.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Load(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, cfg)
}

// Patch handles PATCH /router-config with a partial flags update.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	cfg, err := h.store.Save(r.Context(), patch)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	ctxlog.FromContext(r.Context()).Info("router config updated",
		"subject_id", httputil.GetSubjectID(r.Context()),
		"global_enabled", cfg.GlobalEnabled,
		"processing_enabled", cfg.ProcessingEnabled,
		"auto_cron_enabled", cfg.AutoCronEnabled,
	)

	httputil.Success(w, http.StatusOK, cfg)
}
