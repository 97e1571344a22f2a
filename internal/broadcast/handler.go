package broadcast

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrBroadcastNotFound, Status: http.StatusNotFound},
	{Error: ErrNotCancellable, Status: http.StatusConflict},
	{Error: ErrInvalidInput, Status: http.StatusBadRequest},
}

// Handler handles broadcast HTTP requests.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new broadcast handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes registers broadcast routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/broadcasts", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{broadcastID}", h.Get)
		r.Post("/{broadcastID}/cancel", h.Cancel)
	})
}

type createBroadcastRequest struct {
	Category string            `json:"category" validate:"required,max=64"`
	Type     string            `json:"type" validate:"required,max=64"`
	Title    string            `json:"title" validate:"required,max=256"`
	Body     string            `json:"body" validate:"required,max=4096"`
	Payload  map[string]string `json:"payload"`

	SenderID     string `json:"sender_id" validate:"omitempty,uuid"`
	SenderName   string `json:"sender_name" validate:"max=256"`
	SenderAvatar string `json:"sender_avatar" validate:"omitempty,url"`

	ScheduleMode string     `json:"schedule_mode" validate:"omitempty,oneof=now at_utc at_user_local"`
	AtUTC        *time.Time `json:"at_utc"`
	Hour         int        `json:"hour" validate:"min=0,max=23"`
	Minute       int        `json:"minute" validate:"min=0,max=59"`

	RepeatMode   string `json:"repeat_mode" validate:"omitempty,oneof=none daily every_n_days weekdays"`
	IntervalDays int    `json:"interval_days" validate:"omitempty,min=1"`
	DaysOfWeek   []int  `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
	Remaining    *int   `json:"remaining_occurrences" validate:"omitempty,min=1"`

	BatchSize int `json:"batch_size" validate:"omitempty,min=1"`
}

// Create handles POST /broadcasts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	b, err := h.service.Create(r.Context(), CreateInput{
		Category:     req.Category,
		Type:         req.Type,
		Title:        req.Title,
		Body:         req.Body,
		Payload:      req.Payload,
		SenderID:     req.SenderID,
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		Schedule: domain.Schedule{
			Mode:   domain.ScheduleMode(req.ScheduleMode),
			AtUTC:  req.AtUTC,
			Hour:   req.Hour,
			Minute: req.Minute,
		},
		Recurrence: domain.Recurrence{
			Mode:         domain.RepeatMode(req.RepeatMode),
			IntervalDays: req.IntervalDays,
			DaysOfWeek:   req.DaysOfWeek,
			Remaining:    req.Remaining,
		},
		BatchSize: req.BatchSize,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, b)
}

type listBroadcastsResponse struct {
	Broadcasts []domain.Broadcast `json:"broadcasts"`
}

// List handles GET /broadcasts with status and limit query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	broadcasts, err := h.service.List(r.Context(), domain.BroadcastStatus(q.Get("status")), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, listBroadcastsResponse{Broadcasts: broadcasts})
}

// Get handles GET /broadcasts/{broadcastID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "broadcastID")
	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusNotFound, "broadcast not found")
		return
	}

	b, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, b)
}

// Cancel handles POST /broadcasts/{broadcastID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "broadcastID")
	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusNotFound, "broadcast not found")
		return
	}

	b, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, b)
}
