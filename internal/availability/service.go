package availability

import (
	"context"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// Provider is the subset of the scheduling client read through the cache.
type Provider interface {
	ListAppointmentTypes(ctx context.Context) ([]acuity.AppointmentType, error)
	AvailableDates(ctx context.Context, q acuity.AvailabilityQuery) ([]acuity.AvailableDate, error)
	AvailableTimes(ctx context.Context, q acuity.AvailabilityQuery) ([]acuity.AvailableTime, error)
}

// Service serves availability from the cache and falls through to the provider on a miss.
type Service struct {
	cache    *Cache
	provider Provider
	logger   *logging.Logger
}

func NewService(cache *Cache, provider Provider, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{cache: cache, provider: provider, logger: logger}
}

// AppointmentTypes returns active examination types.
func (s *Service) AppointmentTypes(ctx context.Context) ([]acuity.AppointmentType, error) {
	if types, ok := s.cache.GetAppointmentTypeCatalog(ctx); ok {
		return types, nil
	}
	all, err := s.provider.ListAppointmentTypes(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]acuity.AppointmentType, 0, len(all))
	for _, t := range all {
		if t.Active {
			active = append(active, t)
		}
	}
	s.cache.SetAppointmentTypeCatalog(ctx, active)
	return active, nil
}

// Dates returns days with openings for a specialist calendar in month (YYYY-MM).
func (s *Service) Dates(ctx context.Context, calendarID, appointmentTypeID int64, month string) ([]acuity.AvailableDate, error) {
	if dates, ok := s.cache.GetAvailableDates(ctx, calendarID, month, appointmentTypeID); ok {
		return dates, nil
	}
	dates, err := s.provider.AvailableDates(ctx, acuity.AvailabilityQuery{
		AppointmentTypeID: appointmentTypeID,
		CalendarID:        calendarID,
		Month:             month,
	})
	if err != nil {
		return nil, err
	}
	s.cache.SetAvailableDates(ctx, calendarID, month, appointmentTypeID, dates)
	return dates, nil
}

// Times returns open slot starts for a specialist calendar on date (YYYY-MM-DD).
func (s *Service) Times(ctx context.Context, calendarID, appointmentTypeID int64, date string) ([]acuity.AvailableTime, error) {
	if slots, ok := s.cache.GetAvailability(ctx, calendarID, date, appointmentTypeID); ok {
		return slots, nil
	}
	slots, err := s.provider.AvailableTimes(ctx, acuity.AvailabilityQuery{
		AppointmentTypeID: appointmentTypeID,
		CalendarID:        calendarID,
		Date:              date,
	})
	if err != nil {
		return nil, err
	}
	s.cache.SetAvailability(ctx, calendarID, date, appointmentTypeID, slots)
	return slots, nil
}
