package events

import "time"

const (
	TypeBookingCreated    = "booking.created.v1"
	TypeBookingProgressed = "booking.progressed.v1"
)

// BookingCreatedV1 is emitted once a booking is confirmed with the scheduling provider.
type BookingCreatedV1 struct {
	BookingID           string    `json:"booking_id"`
	OrgID               string    `json:"org_id"`
	ReferrerID          string    `json:"referrer_id"`
	SpecialistID        string    `json:"specialist_id"`
	AcuityAppointmentID int64     `json:"acuity_appointment_id"`
	ExamType            string    `json:"exam_type"`
	ExamDate            time.Time `json:"exam_date"`
	CreatedAt           time.Time `json:"created_at"`
}

func (BookingCreatedV1) EventType() string { return TypeBookingCreated }

func (e BookingCreatedV1) Booking() string { return e.BookingID }

func (e BookingCreatedV1) Timestamp() time.Time { return e.CreatedAt }

// BookingProgressedV1 is emitted for every accepted status transition.
type BookingProgressedV1 struct {
	BookingID          string    `json:"booking_id"`
	OrgID              string    `json:"org_id"`
	ReferrerID         string    `json:"referrer_id"`
	FromStatus         string    `json:"from_status"`
	ToStatus           string    `json:"to_status"`
	ExamType           string    `json:"exam_type"`
	ActorID            string    `json:"actor_id,omitempty"`
	ImpersonatedUserID string    `json:"impersonated_user_id,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	ExamDate           time.Time `json:"exam_date"`
	OccurredAt         time.Time `json:"occurred_at"`
}

func (BookingProgressedV1) EventType() string { return TypeBookingProgressed }

func (e BookingProgressedV1) Booking() string { return e.BookingID }

func (e BookingProgressedV1) Timestamp() time.Time { return e.OccurredAt }
