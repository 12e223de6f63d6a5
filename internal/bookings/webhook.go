package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/compliance"
	"github.com/wolfman30/exam-scheduling/internal/identity"
)

// Reconciliation outcomes.
const (
	OutcomeIgnored     = "ignored"
	OutcomeUnchanged   = "unchanged"
	OutcomeDateSynced  = "date_synced"
	OutcomeRescheduled = "rescheduled"
	OutcomeCancelled   = "cancelled"
)

// WebhookResult reports what a provider notification changed.
type WebhookResult struct {
	Action    string     `json:"action"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	Outcome   string     `json:"outcome"`
}

// HandleProviderWebhook authenticates a provider notification and folds the
// live appointment state back into the matching booking.
func (s *Service) HandleProviderWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.webhook")
	defer span.End()

	if !s.scheduler.ValidateWebhookSignature(payload, signature) {
		s.metrics.ObserveWebhook("unknown", "invalid_signature")
		s.logger.Warn("rejected provider webhook with invalid signature")
		return nil, apperr.New(apperr.KindInvalidSignature, "Invalid webhook signature")
	}
	evt, err := acuity.ParseWebhook(payload)
	if err != nil {
		s.metrics.ObserveWebhook("unknown", "malformed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("examsched.webhook_action", evt.Action),
		attribute.Int64("examsched.acuity_appointment_id", evt.AppointmentID),
	)

	result := &WebhookResult{Action: evt.Action}
	b, err := s.store.FindByAppointmentID(ctx, evt.AppointmentID)
	if errors.Is(err, ErrNotFound) {
		s.invalidate(ctx, evt.CalendarID)
		result.Outcome = OutcomeIgnored
		s.metrics.ObserveWebhook(evt.Action, result.Outcome)
		s.logger.Info("provider webhook for unknown appointment ignored", "action", evt.Action, "acuity_appointment_id", evt.AppointmentID)
		return result, nil
	}
	if err != nil {
		s.metrics.ObserveWebhook(evt.Action, "error")
		return nil, s.fail(span, "find booking by appointment", err)
	}
	result.BookingID = &b.ID

	appt, err := s.scheduler.GetAppointment(ctx, evt.AppointmentID)
	if err != nil {
		s.metrics.ObserveWebhook(evt.Action, "error")
		return nil, s.fail(span, "fetch appointment", err)
	}

	outcome, err := s.reconcile(ctx, b, appt, evt.Action)
	calendarID := appt.CalendarID
	if calendarID == 0 {
		calendarID = evt.CalendarID
	}
	s.invalidate(ctx, calendarID)
	if err != nil {
		s.metrics.ObserveWebhook(evt.Action, "error")
		return nil, s.fail(span, "reconcile booking", err)
	}
	result.Outcome = outcome
	s.metrics.ObserveWebhook(evt.Action, outcome)
	s.logger.Info("provider webhook reconciled", "action", evt.Action, "booking_id", b.ID, "outcome", outcome)
	return result, nil
}

// reconcile makes b agree with the provider's appointment. An empty action
// means a sweep, which is handled like a change notification.
func (s *Service) reconcile(ctx context.Context, b *Booking, appt *acuity.Appointment, action string) (string, error) {
	if appt.Canceled || action == acuity.ActionCanceled {
		if !CanTransition(b.Status, StatusCancelled) {
			return OutcomeUnchanged, nil
		}
		_, err := s.transition(ctx, identity.System, b.ID, StatusCancelled, "Cancelled in scheduling provider", nil)
		if apperr.IsKind(err, apperr.KindInvalidTransition) {
			return OutcomeUnchanged, nil
		}
		if err != nil {
			return "", err
		}
		return OutcomeCancelled, nil
	}

	start, err := appt.Start()
	if err != nil {
		return "", apperr.New(apperr.KindInvalidResponse, "Invalid appointment data received from provider")
	}
	start = start.UTC()
	duration := appt.DurationMinutes()
	if duration == 0 {
		duration = b.DurationMinutes
	}
	if start.Equal(b.ExamDate) && duration == b.DurationMinutes {
		return OutcomeUnchanged, nil
	}
	dateChanged := !start.Equal(b.ExamDate)
	now := s.now().UTC()

	if dateChanged && action != acuity.ActionScheduled && b.Status == StatusScheduled {
		_, err := s.transition(ctx, identity.System, b.ID, StatusRescheduled, "Rescheduled in scheduling provider",
			func(ctx context.Context, tx Tx, _ *Booking) error {
				return tx.Reschedule(ctx, b.ID, start, duration, now)
			})
		if err == nil {
			s.recordReschedule(ctx, b, start)
			return OutcomeRescheduled, nil
		}
		if !apperr.IsKind(err, apperr.KindInvalidTransition) {
			return "", err
		}
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetForUpdate(ctx, b.ID); err != nil {
			return err
		}
		return tx.Reschedule(ctx, b.ID, start, duration, now)
	})
	if err != nil {
		return "", err
	}
	if dateChanged {
		s.recordReschedule(ctx, b, start)
	}
	return OutcomeDateSynced, nil
}

func (s *Service) recordReschedule(ctx context.Context, b *Booking, start time.Time) {
	s.record(ctx, compliance.Entry{
		Action:       compliance.ActionBookingRescheduled,
		ResourceType: "booking",
		ResourceID:   b.ID.String(),
		Metadata: map[string]any{
			"previous_exam_date": b.ExamDate.Format(time.RFC3339),
			"new_exam_date":      start.Format(time.RFC3339),
			"source":             "scheduling_provider",
		},
	})
}

func (s *Service) invalidate(ctx context.Context, calendarID int64) {
	if s.cache == nil || calendarID == 0 {
		return
	}
	if err := s.cache.InvalidateSpecialist(ctx, calendarID); err != nil {
		s.logger.Warn("availability cache invalidation failed", "calendar_id", calendarID, "error", err)
	}
}
