package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/bookings"
	"github.com/wolfman30/exam-scheduling/internal/http/middleware"
	"github.com/wolfman30/exam-scheduling/internal/identity"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

const maxBodyBytes = 1 << 20

// BookingService is the lifecycle surface exposed over HTTP.
type BookingService interface {
	CreateBooking(ctx context.Context, caller identity.Caller, in bookings.CreateInput) (*bookings.Booking, error)
	GetBookingByID(ctx context.Context, caller identity.Caller, id uuid.UUID) (*bookings.Booking, error)
	GetBookingsForUser(ctx context.Context, caller identity.Caller, filter bookings.ListFilter) (*bookings.Page, error)
	History(ctx context.Context, caller identity.Caller, id uuid.UUID) ([]bookings.Progress, error)
	UpdateProgress(ctx context.Context, caller identity.Caller, id uuid.UUID, to bookings.Status, notes string) (*bookings.Booking, error)
}

// BookingHandler serves /api/bookings.
type BookingHandler struct {
	service BookingService
	logger  *logging.Logger
}

func NewBookingHandler(service BookingService, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{service: service, logger: logger}
}

type progressRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type progressResponse struct {
	Items []bookings.Progress `json:"items"`
}

// Create books an examination for the calling referrer.
// POST /api/bookings
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var in bookings.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteError(w, err)
		return
	}
	b, err := h.service.CreateBooking(r.Context(), caller, in)
	if err != nil {
		h.logFailure("create booking", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, b)
}

// List returns the bookings visible to the caller.
// GET /api/bookings
// Query params:
//   - status: comma separated statuses
//   - specialist_id: comma separated specialist ids
//   - q: patient last name, exam type or location search
//   - page, page_size
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	page, err := h.service.GetBookingsForUser(r.Context(), caller, filter)
	if err != nil {
		h.logFailure("list bookings", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// Get returns one booking.
// GET /api/bookings/{bookingID}
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	b, err := h.service.GetBookingByID(r.Context(), caller, id)
	if err != nil {
		h.logFailure("get booking", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// History returns progress entries newest first.
// GET /api/bookings/{bookingID}/progress
func (h *BookingHandler) History(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.service.History(r.Context(), caller, id)
	if err != nil {
		h.logFailure("booking history", err)
		middleware.WriteError(w, err)
		return
	}
	if items == nil {
		items = []bookings.Progress{}
	}
	middleware.WriteJSON(w, http.StatusOK, progressResponse{Items: items})
}

// UpdateProgress moves a booking along its lifecycle.
// POST /api/bookings/{bookingID}/progress
func (h *BookingHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	b, err := h.service.UpdateProgress(r.Context(), caller, id, bookings.Status(strings.TrimSpace(req.Status)), req.Notes)
	if err != nil {
		h.logFailure("update progress", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// logFailure only reports server-side failures; client errors are logged by the request logger.
func (h *BookingHandler) logFailure(op string, err error) {
	if status := apperr.StatusFor(apperr.KindOf(err)); status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err)
	}
}

func callerFrom(w http.ResponseWriter, r *http.Request) (identity.Caller, bool) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, apperr.New(apperr.KindUnauthorized, "Authentication required"))
		return identity.Caller{}, false
	}
	return caller, true
}

func bookingIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	id, err := uuid.Parse(raw)
	if err != nil {
		// Malformed ids cannot exist, so they read as missing.
		middleware.WriteError(w, apperr.NotFound("Booking"))
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "Invalid request body")
	}
	return nil
}

func parseListFilter(r *http.Request) (bookings.ListFilter, error) {
	q := r.URL.Query()
	filter := bookings.ListFilter{Search: strings.TrimSpace(q.Get("q"))}
	for _, raw := range splitCSV(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, bookings.Status(raw))
	}
	for _, raw := range splitCSV(q.Get("specialist_id")) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return bookings.ListFilter{}, apperr.Validation("Invalid specialist_id", map[string]any{"specialist_id": raw})
		}
		filter.SpecialistIDs = append(filter.SpecialistIDs, id)
	}
	var err error
	if filter.Page, err = optionalInt(q.Get("page")); err != nil {
		return bookings.ListFilter{}, apperr.Validation("Invalid page", map[string]any{"page": q.Get("page")})
	}
	if filter.PageSize, err = optionalInt(q.Get("page_size")); err != nil {
		return bookings.ListFilter{}, apperr.Validation("Invalid page_size", map[string]any{"page_size": q.Get("page_size")})
	}
	return filter, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optionalInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
