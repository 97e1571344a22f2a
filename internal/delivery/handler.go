package delivery

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/pkg/httputil"
	"github.com/bissquit/push-garden/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: queue.ErrItemNotFound, Status: http.StatusNotFound},
	{Error: queue.ErrItemNotPending, Status: http.StatusConflict},
	{Error: ErrProcessingDisabled, Status: http.StatusForbidden},
}

// Handler exposes the manual force-send operation.
type Handler struct {
	processor *Processor
}

// NewHandler creates a delivery handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// RegisterRoutes registers delivery routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/queue/{itemID}/send", h.ForceSend)
}

type forceSendRequest struct {
	SkipEnablement bool `json:"skip_enablement"`
	SkipDedupe     bool `json:"skip_dedupe"`
}

// ForceSend handles POST /queue/{itemID}/send. The body is optional; an
// empty body runs the normal per-item pipeline without the scheduled-time
// gate.
func (h *Handler) ForceSend(w http.ResponseWriter, r *http.Request) {
	var req forceSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	itemID := chi.URLParam(r, "itemID")
	if _, err := uuid.Parse(itemID); err != nil {
		httputil.Error(w, http.StatusNotFound, "item not found")
		return
	}

	item, err := h.processor.ForceSend(r.Context(), itemID, ForceOptions{
		SkipEnablement: req.SkipEnablement,
		SkipDedupe:     req.SkipDedupe,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("item force-sent",
		"item_id", item.ID,
		"status", item.Status,
		"subject_id", httputil.GetSubjectID(r.Context()),
	)

	httputil.Success(w, http.StatusOK, item)
}
