package bookings

import (
	"time"

	"github.com/google/uuid"
)

// Patient holds examinee identity. Every field is encrypted at rest.
type Patient struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Phone       string `json:"phone" validate:"required,min=7,max=32"`
	Email       string `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

// Booking is the authoritative internal record of one examination appointment.
type Booking struct {
	ID                  uuid.UUID  `json:"id"`
	OrgID               uuid.UUID  `json:"org_id"`
	ReferrerID          uuid.UUID  `json:"referrer_id"`
	SpecialistID        *uuid.UUID `json:"specialist_id,omitempty"`
	AcuityAppointmentID *int64     `json:"acuity_appointment_id,omitempty"`
	AppointmentTypeID   int64      `json:"appointment_type_id"`
	Patient             Patient    `json:"patient"`
	ExamType            string     `json:"exam_type"`
	ExamLocation        string     `json:"exam_location,omitempty"`
	ExamDate            time.Time  `json:"exam_date"`
	DurationMinutes     int        `json:"duration_minutes,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	Status              Status     `json:"status"`
	ScheduledAt         *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Progress is one immutable status transition.
type Progress struct {
	ID         uuid.UUID      `json:"id"`
	BookingID  uuid.UUID      `json:"booking_id"`
	FromStatus *Status        `json:"from_status"`
	ToStatus   Status         `json:"to_status"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Specialist is an examiner with a provider calendar.
type Specialist struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Name             string    `json:"name"`
	AcuityCalendarID int64     `json:"acuity_calendar_id"`
	Location         string    `json:"location,omitempty"`
	Active           bool      `json:"active"`
}

// CreateInput is a booking request. The referrer is the calling user.
type CreateInput struct {
	SpecialistID      uuid.UUID `json:"specialist_id" validate:"required"`
	ExamDate          time.Time `json:"exam_date" validate:"required"`
	AppointmentTypeID int64     `json:"appointment_type_id" validate:"required,gt=0"`
	ExamType          string    `json:"exam_type" validate:"required,max=200"`
	ExamLocation      string    `json:"exam_location" validate:"max=300"`
	Patient           Patient   `json:"patient"`
	Notes             string    `json:"notes" validate:"max=5000"`
}

// ListFilter narrows GetBookingsForUser.
type ListFilter struct {
	Statuses      []Status
	SpecialistIDs []uuid.UUID
	Search        string
	Page          int
	PageSize      int
}

// Page is one page of bookings.
type Page struct {
	Items    []Booking `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}
