// Package bookings owns the booking record: race-safe creation against the
// scheduling provider, the progress state machine, and role-scoped reads.
package bookings

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/compliance"
	"github.com/wolfman30/exam-scheduling/internal/events"
	"github.com/wolfman30/exam-scheduling/internal/identity"
	"github.com/wolfman30/exam-scheduling/internal/observability/metrics"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

var bookingsTracer = otel.Tracer("examsched.internal.bookings")

const maxProgressNotes = 2000

// Scheduler is the scheduling provider as seen by the booking core.
type Scheduler interface {
	CreateAppointment(ctx context.Context, req acuity.CreateAppointmentRequest) (*acuity.Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*acuity.Appointment, error)
	CancelAppointment(ctx context.Context, id int64, note string) (*acuity.Appointment, error)
	ValidateWebhookSignature(payload []byte, signature string) bool
}

// AuditLogger appends audit entries.
type AuditLogger interface {
	Log(ctx context.Context, entry compliance.Entry) error
}

// Service orchestrates the booking lifecycle.
type Service struct {
	store     Store
	scheduler Scheduler
	directory identity.Directory
	audit     AuditLogger
	cache     acuity.CacheInvalidator
	validate  *validator.Validate
	logger    *logging.Logger
	metrics   *metrics.SchedulingMetrics
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInvalidator drops cached availability after provider-driven changes.
func WithInvalidator(cache acuity.CacheInvalidator) Option {
	return func(s *Service) { s.cache = cache }
}

// NewService constructs the booking service.
func NewService(store Store, scheduler Scheduler, directory identity.Directory, audit AuditLogger, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("bookings: store required")
	}
	if scheduler == nil {
		panic("bookings: scheduler required")
	}
	if directory == nil {
		panic("bookings: identity directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:     store,
		scheduler: scheduler,
		directory: directory,
		audit:     audit,
		validate:  newValidator(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBooking reserves the slot locally, creates the provider appointment and
// commits both or neither. A provider failure rolls the local row back.
func (s *Service) CreateBooking(ctx context.Context, caller identity.Caller, in CreateInput) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()

	in = sanitizeCreateInput(in)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	now := s.now().UTC()
	examDate := in.ExamDate.UTC().Truncate(time.Second)
	if !examDate.After(now) {
		return nil, apperr.Validation("invalid request", map[string]any{"fields": map[string]any{"exam_date": "must be in the future"}})
	}

	referrer := caller.Effective()
	span.SetAttributes(
		attribute.String("examsched.specialist_id", in.SpecialistID.String()),
		attribute.String("examsched.referrer_id", referrer.ID.String()),
	)

	specialist, err := s.store.Specialist(ctx, in.SpecialistID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, apperr.SpecialistNotFound()
	case err != nil:
		return nil, s.fail(span, "load specialist", err)
	case !specialist.Active:
		return nil, apperr.SpecialistNotFound()
	}

	location := in.ExamLocation
	if location == "" {
		location = specialist.Location
	}
	booking := &Booking{
		ID:                uuid.New(),
		ReferrerID:        referrer.ID,
		SpecialistID:      &specialist.ID,
		AppointmentTypeID: in.AppointmentTypeID,
		Patient:           in.Patient,
		ExamType:          in.ExamType,
		ExamLocation:      location,
		ExamDate:          examDate,
		Notes:             in.Notes,
		Status:            StatusProvisional,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Past the provider call the operation must not be abandoned half way.
	txCtx := context.WithoutCancel(ctx)
	var appt *acuity.Appointment
	err = s.store.InTx(txCtx, func(tx Tx) error {
		if err := tx.LockSlot(txCtx, specialist.ID, examDate); err != nil {
			return err
		}
		taken, err := tx.SlotTaken(txCtx, specialist.ID, examDate)
		if err != nil {
			return err
		}
		if taken {
			return apperr.SlotUnavailable()
		}

		membership, err := s.directory.Membership(txCtx, referrer.ID)
		if errors.Is(err, identity.ErrNotFound) {
			return apperr.OrganizationNotFound()
		}
		if err != nil {
			return err
		}
		booking.OrgID = membership.OrgID

		if err := tx.Insert(txCtx, booking); err != nil {
			return err
		}

		created, err := s.scheduler.CreateAppointment(txCtx, acuity.CreateAppointmentRequest{
			Datetime:          examDate,
			AppointmentTypeID: in.AppointmentTypeID,
			CalendarID:        specialist.AcuityCalendarID,
			FirstName:         in.Patient.FirstName,
			LastName:          in.Patient.LastName,
			Email:             in.Patient.Email,
			Phone:             in.Patient.Phone,
		})
		if apperr.IsKind(err, apperr.KindRateLimitExceeded) {
			return err
		}
		if err != nil {
			return apperr.ExternalSyncFailed(err).WithDetails(map[string]any{"provider_error": apperr.KindOf(err)})
		}
		appt = created

		booking.AcuityAppointmentID = &created.ID
		booking.DurationMinutes = created.DurationMinutes()
		booking.Status = StatusScheduled
		booking.ScheduledAt = &now
		if err := tx.ConfirmExternal(txCtx, booking.ID, created.ID, booking.DurationMinutes, now); err != nil {
			return err
		}
		return tx.Emit(txCtx, events.BookingCreatedV1{
			BookingID:           booking.ID.String(),
			OrgID:               booking.OrgID.String(),
			ReferrerID:          booking.ReferrerID.String(),
			SpecialistID:        specialist.ID.String(),
			AcuityAppointmentID: created.ID,
			ExamType:            booking.ExamType,
			ExamDate:            booking.ExamDate,
			CreatedAt:           now,
		})
	})
	if err != nil {
		if appt != nil {
			s.compensate(txCtx, caller, booking, appt.ID, err)
		}
		if apperr.IsKind(err, apperr.KindExternalSyncFailed) {
			s.logger.Warn("booking rolled back after provider failure", "specialist_id", specialist.ID, "error", err)
		}
		return nil, s.fail(span, "create booking", err)
	}

	s.record(txCtx, compliance.Entry{
		Action:             compliance.ActionBookingCreated,
		UserID:             caller.ActorID(),
		ImpersonatedUserID: caller.ImpersonatedID(),
		ResourceType:       "booking",
		ResourceID:         booking.ID.String(),
		Metadata: map[string]any{
			"specialist_id":         specialist.ID.String(),
			"acuity_appointment_id": appt.ID,
			"exam_date":             booking.ExamDate.Format(time.RFC3339),
		},
	})
	s.logger.Info("booking created", "booking_id", booking.ID, "org_id", booking.OrgID, "specialist_id", specialist.ID, "acuity_appointment_id", appt.ID)
	return booking, nil
}

// compensate cancels a provider appointment whose local booking did not commit.
func (s *Service) compensate(ctx context.Context, caller identity.Caller, b *Booking, appointmentID int64, cause error) {
	s.logger.Error("provider appointment created but booking not recorded, cancelling",
		"booking_id", b.ID, "acuity_appointment_id", appointmentID, "error", cause)
	if _, err := s.scheduler.CancelAppointment(ctx, appointmentID, "Booking could not be recorded"); err != nil {
		s.logger.Error("compensating cancel failed; reconcile manually",
			"booking_id", b.ID, "acuity_appointment_id", appointmentID, "error", err)
		return
	}
	s.record(ctx, compliance.Entry{
		Action:             compliance.ActionBookingCompensated,
		UserID:             caller.ActorID(),
		ImpersonatedUserID: caller.ImpersonatedID(),
		ResourceType:       "acuity_appointment",
		ResourceID:         formatInt(appointmentID),
		Metadata:           map[string]any{"booking_id": b.ID.String(), "cause": cause.Error()},
	})
}

// GetBookingByID returns a booking the caller may see.
func (s *Service) GetBookingByID(ctx context.Context, caller identity.Caller, id uuid.UUID) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.get")
	defer span.End()

	b, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, "load booking", err)
	}
	if err := s.authorize(ctx, caller, b); err != nil {
		return nil, s.fail(span, "authorize", err)
	}
	return b, nil
}

// GetBookingsForUser lists bookings visible to caller.
func (s *Service) GetBookingsForUser(ctx context.Context, caller identity.Caller, filter ListFilter) (*Page, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.list")
	defer span.End()

	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, apperr.Validation("invalid request", map[string]any{"fields": map[string]any{"status": "unknown status " + string(st)}})
		}
	}
	filter = filter.normalized()
	scope, err := s.scopeFor(ctx, caller)
	if err != nil {
		return nil, s.fail(span, "resolve scope", err)
	}
	items, total, err := s.store.List(ctx, scope, filter)
	if err != nil {
		return nil, s.fail(span, "list bookings", err)
	}
	if items == nil {
		items = []Booking{}
	}
	return &Page{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// History returns progress entries, newest first.
func (s *Service) History(ctx context.Context, caller identity.Caller, id uuid.UUID) ([]Progress, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.history")
	defer span.End()

	b, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, "load booking", err)
	}
	if err := s.authorize(ctx, caller, b); err != nil {
		return nil, s.fail(span, "authorize", err)
	}
	entries, err := s.store.ListProgress(ctx, id)
	if err != nil {
		return nil, s.fail(span, "list progress", err)
	}
	if entries == nil {
		entries = []Progress{}
	}
	return entries, nil
}

// UpdateProgress moves a booking along the state machine on behalf of caller.
func (s *Service) UpdateProgress(ctx context.Context, caller identity.Caller, id uuid.UUID, to Status, notes string) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.update_progress")
	defer span.End()
	span.SetAttributes(attribute.String("examsched.booking_id", id.String()), attribute.String("examsched.to_status", string(to)))

	if !to.Valid() {
		return nil, apperr.Validation("invalid request", map[string]any{"fields": map[string]any{"status": "unknown status " + string(to)}})
	}
	notes = sanitizeNotes(notes)
	if utf8.RuneCountInString(notes) > maxProgressNotes {
		return nil, apperr.Validation("invalid request", map[string]any{"fields": map[string]any{"notes": "must be at most 2000 characters"}})
	}

	b, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, "load booking", err)
	}
	if err := s.authorize(ctx, caller, b); err != nil {
		return nil, s.fail(span, "authorize", err)
	}
	if caller.Effective().Role == identity.RoleSpecialist {
		assigned, err := s.isAssignedSpecialist(ctx, caller.Effective().ID, b)
		if err != nil {
			return nil, s.fail(span, "resolve specialist", err)
		}
		if !assigned {
			return nil, apperr.AccessDenied()
		}
	}

	updated, err := s.transition(ctx, caller, id, to, notes, nil)
	if err != nil {
		return nil, s.fail(span, "update progress", err)
	}
	return updated, nil
}

type transitionHook func(ctx context.Context, tx Tx, b *Booking) error

// transition applies one state-machine edge under a row lock. The legality check
// reads the latest progress entry inside the same transaction, so of two
// concurrent conflicting requests only the first to lock the row succeeds.
func (s *Service) transition(ctx context.Context, caller identity.Caller, id uuid.UUID, to Status, notes string, hook transitionHook) (*Booking, error) {
	var (
		updated *Booking
		from    Status
		now     time.Time
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		b, err := tx.GetForUpdate(ctx, id)
		if errors.Is(err, ErrNotFound) || (err == nil && b.Status == StatusProvisional) {
			return apperr.NotFound("Booking")
		}
		if err != nil {
			return err
		}
		// Stamped only once the row lock is held so entries follow commit order.
		now = s.now().UTC()
		latest, err := tx.LatestProgress(ctx, id)
		if err != nil {
			return err
		}
		from = DefaultStatus
		if latest != nil {
			from = latest.ToStatus
		}
		if !CanTransition(from, to) {
			return apperr.InvalidTransition(string(from), string(to))
		}
		if hook != nil {
			if err := hook(ctx, tx, b); err != nil {
				return err
			}
		}

		metadata := map[string]any{}
		if impersonated := caller.ImpersonatedID(); impersonated != nil {
			metadata["impersonated_user_id"] = impersonated.String()
		}
		if caller.Role == identity.RoleSystem {
			metadata["source"] = "scheduling_provider"
		}
		prev := from
		if err := tx.InsertProgress(ctx, &Progress{
			ID:         uuid.New(),
			BookingID:  id,
			FromStatus: &prev,
			ToStatus:   to,
			ActorID:    caller.ActorID(),
			Notes:      notes,
			Metadata:   metadata,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := tx.ApplyStatus(ctx, id, to, now); err != nil {
			return err
		}

		b.Status = to
		b.UpdatedAt = now
		switch to {
		case StatusCancelled:
			b.CancelledAt = &now
		case StatusPaymentReceived:
			b.CompletedAt = &now
		}
		updated = b

		evt := events.BookingProgressedV1{
			BookingID:  id.String(),
			OrgID:      b.OrgID.String(),
			ReferrerID: b.ReferrerID.String(),
			FromStatus: string(from),
			ToStatus:   string(to),
			ExamType:   b.ExamType,
			Notes:      notes,
			ExamDate:   b.ExamDate,
			OccurredAt: now,
		}
		if actor := caller.ActorID(); actor != nil {
			evt.ActorID = actor.String()
		}
		if impersonated := caller.ImpersonatedID(); impersonated != nil {
			evt.ImpersonatedUserID = impersonated.String()
		}
		return tx.Emit(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	metadata := map[string]any{"previous_status": string(from), "new_status": string(to)}
	if notes != "" {
		metadata["notes"] = notes
	}
	s.record(ctx, compliance.Entry{
		Action:             compliance.ActionBookingProgressUpdated,
		UserID:             caller.ActorID(),
		ImpersonatedUserID: caller.ImpersonatedID(),
		ResourceType:       "booking",
		ResourceID:         id.String(),
		Metadata:           metadata,
	})
	s.logger.Info("booking progressed", "booking_id", id, "from", from, "to", to, "actor_role", caller.Role)
	return updated, nil
}

// record writes an audit entry after the business transaction committed.
// Failures are reported to operators and never undo the change.
func (s *Service) record(ctx context.Context, entry compliance.Entry) {
	if s.audit == nil {
		s.logger.Error("audit sink not configured; entry dropped", "action", entry.Action, "resource_id", entry.ResourceID)
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Error("audit log write failed", "action", entry.Action, "resource_type", entry.ResourceType, "resource_id", entry.ResourceID, "error", err)
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Booking")
	}
	return b, err
}

// fail passes typed errors through and hides everything else behind INTERNAL_ERROR.
func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	if _, ok := apperr.As(err); ok {
		return err
	}
	s.logger.Error("bookings: "+op+" failed", "error", err)
	return apperr.Internal(err)
}

