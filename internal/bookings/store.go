package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/events"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("bookings: not found")

// CommitError reports that the transaction body succeeded but the commit did not.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return "bookings: commit: " + e.Err.Error() }

func (e *CommitError) Unwrap() error { return e.Err }

// Scope restricts list queries to what a caller may see. Non-All scopes are a union.
type Scope struct {
	All          bool
	ReferrerIDs  []uuid.UUID
	SpecialistID *uuid.UUID
	OrgID        *uuid.UUID
}

// Store is the persistence boundary for bookings and their progress history.
type Store interface {
	// InTx runs fn in one transaction; fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Specialist(ctx context.Context, id uuid.UUID) (*Specialist, error)
	SpecialistByUserID(ctx context.Context, userID uuid.UUID) (*Specialist, error)
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	FindByAppointmentID(ctx context.Context, appointmentID int64) (*Booking, error)
	List(ctx context.Context, scope Scope, filter ListFilter) ([]Booking, int, error)
	ListProgress(ctx context.Context, bookingID uuid.UUID) ([]Progress, error)
	ListForReconcile(ctx context.Context, from, to time.Time, limit int) ([]Booking, error)
}

// Tx is the transactional view used by creation and transitions.
type Tx interface {
	// LockSlot serializes creators of the same specialist/time until commit.
	LockSlot(ctx context.Context, specialistID uuid.UUID, at time.Time) error
	SlotTaken(ctx context.Context, specialistID uuid.UUID, at time.Time) (bool, error)
	Insert(ctx context.Context, b *Booking) error
	ConfirmExternal(ctx context.Context, id uuid.UUID, appointmentID int64, durationMinutes int, at time.Time) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	LatestProgress(ctx context.Context, bookingID uuid.UUID) (*Progress, error)
	InsertProgress(ctx context.Context, p *Progress) error
	ApplyStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, examDate time.Time, durationMinutes int, at time.Time) error
	Emit(ctx context.Context, evt events.Event) error
}
