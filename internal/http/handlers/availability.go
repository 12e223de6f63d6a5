package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/bookings"
	"github.com/wolfman30/exam-scheduling/internal/http/middleware"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// AvailabilityService reads openings through the availability cache.
type AvailabilityService interface {
	AppointmentTypes(ctx context.Context) ([]acuity.AppointmentType, error)
	Dates(ctx context.Context, calendarID, appointmentTypeID int64, month string) ([]acuity.AvailableDate, error)
	Times(ctx context.Context, calendarID, appointmentTypeID int64, date string) ([]acuity.AvailableTime, error)
}

// SpecialistLookup resolves a specialist to its provider calendar.
type SpecialistLookup interface {
	Specialist(ctx context.Context, id uuid.UUID) (*bookings.Specialist, error)
}

var (
	monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)
	datePattern  = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)
)

// AvailabilityHandler serves appointment types and specialist openings.
type AvailabilityHandler struct {
	service     AvailabilityService
	specialists SpecialistLookup
	logger      *logging.Logger
}

func NewAvailabilityHandler(service AvailabilityService, specialists SpecialistLookup, logger *logging.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{service: service, specialists: specialists, logger: logger}
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

// AppointmentTypes lists bookable examination types.
// GET /api/appointment-types
func (h *AvailabilityHandler) AppointmentTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.AppointmentTypes(r.Context())
	if err != nil {
		h.logger.Warn("list appointment types failed", "error", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, itemsResponse[acuity.AppointmentType]{Items: nonNil(types)})
}

// Dates lists days with openings.
// GET /api/specialists/{specialistID}/availability/dates?month=YYYY-MM&appointmentTypeId=N
func (h *AvailabilityHandler) Dates(w http.ResponseWriter, r *http.Request) {
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if !monthPattern.MatchString(month) {
		middleware.WriteError(w, apperr.Validation("month must be YYYY-MM", map[string]any{"month": month}))
		return
	}
	calendarID, typeID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	dates, err := h.service.Dates(r.Context(), calendarID, typeID, month)
	if err != nil {
		h.logger.Warn("available dates failed", "calendar_id", calendarID, "error", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, itemsResponse[acuity.AvailableDate]{Items: nonNil(dates)})
}

// Times lists open slot starts on one day.
// GET /api/specialists/{specialistID}/availability/times?date=YYYY-MM-DD&appointmentTypeId=N
func (h *AvailabilityHandler) Times(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if !datePattern.MatchString(date) {
		middleware.WriteError(w, apperr.Validation("date must be YYYY-MM-DD", map[string]any{"date": date}))
		return
	}
	calendarID, typeID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	slots, err := h.service.Times(r.Context(), calendarID, typeID, date)
	if err != nil {
		h.logger.Warn("available times failed", "calendar_id", calendarID, "error", err)
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, itemsResponse[acuity.AvailableTime]{Items: nonNil(slots)})
}

func (h *AvailabilityHandler) resolve(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	typeID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("appointmentTypeId")), 10, 64)
	if err != nil || typeID <= 0 {
		middleware.WriteError(w, apperr.Validation("appointmentTypeId is required", nil))
		return 0, 0, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "specialistID"))
	if err != nil {
		middleware.WriteError(w, apperr.SpecialistNotFound())
		return 0, 0, false
	}
	specialist, err := h.specialists.Specialist(r.Context(), id)
	switch {
	case errors.Is(err, bookings.ErrNotFound):
		middleware.WriteError(w, apperr.SpecialistNotFound())
		return 0, 0, false
	case err != nil:
		h.logger.Error("load specialist failed", "specialist_id", id, "error", err)
		middleware.WriteError(w, err)
		return 0, 0, false
	case !specialist.Active:
		middleware.WriteError(w, apperr.SpecialistNotFound())
		return 0, 0, false
	}
	return specialist.AcuityCalendarID, typeID, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
