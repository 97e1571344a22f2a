package queue

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
	{Error: ErrItemNotFound, Status: http.StatusNotFound},
	{Error: ErrEnqueueDisabled, Status: http.StatusForbidden},
	{Error: ErrItemNotPending, Status: http.StatusConflict},
	{Error: ErrInvalidRule, Status: http.StatusBadRequest},
	{Error: ErrBadCursor, Status: http.StatusBadRequest},
}

// Handler handles queue item HTTP requests.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes registers queue routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/stats", h.Stats)
		r.Get("/{itemID}", h.Get)
		r.Delete("/{itemID}", h.Remove)
	})
}

type recurrenceRequest struct {
	Mode         string `json:"mode" validate:"omitempty,oneof=none daily every_n_days weekdays"`
	IntervalDays int    `json:"interval_days" validate:"omitempty,min=1"`
	DaysOfWeek   []int  `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
	Remaining    *int   `json:"remaining_occurrences" validate:"omitempty,min=1"`
}

type createItemRequest struct {
	Category string            `json:"category" validate:"required,max=64"`
	Type     string            `json:"type" validate:"required,max=64"`
	Title    string            `json:"title" validate:"required,max=256"`
	Body     string            `json:"body" validate:"required,max=4096"`
	Payload  map[string]string `json:"payload"`

	RecipientID  string `json:"recipient_id" validate:"required,uuid"`
	SenderID     string `json:"sender_id" validate:"omitempty,uuid"`
	SenderName   string `json:"sender_name" validate:"max=256"`
	SenderAvatar string `json:"sender_avatar" validate:"omitempty,url"`

	ScheduleMode    string     `json:"schedule_mode" validate:"omitempty,oneof=now at_utc at_user_local"`
	AtUTC           *time.Time `json:"at_utc"`
	Hour            int        `json:"hour" validate:"min=0,max=23"`
	Minute          int        `json:"minute" validate:"min=0,max=59"`
	TZOffsetMinutes int        `json:"tz_offset_minutes" validate:"min=-720,max=840"`

	Recurrence *recurrenceRequest `json:"recurrence"`

	DedupeKey      string `json:"dedupe_key" validate:"max=256"`
	DedupeWindowMs int64  `json:"dedupe_window_ms" validate:"min=0"`
}

// Create handles POST /queue.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	in := CreateInput{
		Category:     req.Category,
		Type:         req.Type,
		Title:        req.Title,
		Body:         req.Body,
		Payload:      req.Payload,
		RecipientID:  req.RecipientID,
		SenderID:     req.SenderID,
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		Schedule: domain.Schedule{
			Mode:   domain.ScheduleMode(req.ScheduleMode),
			AtUTC:  req.AtUTC,
			Hour:   req.Hour,
			Minute: req.Minute,
		},
		TZOffsetMinutes: req.TZOffsetMinutes,
		DedupeKey:       req.DedupeKey,
		DedupeWindowMs:  req.DedupeWindowMs,
	}
	if req.Recurrence != nil {
		in.Recurrence = domain.Recurrence{
			Mode:         domain.RepeatMode(req.Recurrence.Mode),
			IntervalDays: req.Recurrence.IntervalDays,
			DaysOfWeek:   req.Recurrence.DaysOfWeek,
			Remaining:    req.Recurrence.Remaining,
		}
	}

	item, err := h.service.Create(r.Context(), in)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

type listItemsResponse struct {
	Items      []domain.QueueItem `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// List handles GET /queue with status, recipient_id, campaign_id, cursor
// and limit query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := ListFilter{
		Status:      domain.QueueStatus(q.Get("status")),
		RecipientID: q.Get("recipient_id"),
		CampaignID:  q.Get("campaign_id"),
		Cursor:      q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	items, next, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, listItemsResponse{Items: items, NextCursor: next})
}

// Get handles GET /queue/{itemID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusNotFound, "item not found")
		return
	}

	item, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// Remove handles DELETE /queue/{itemID}: the item is kept as history with
// status skipped rather than erased.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusNotFound, "item not found")
		return
	}

	item, err := h.service.Remove(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// Stats handles GET /queue/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}
