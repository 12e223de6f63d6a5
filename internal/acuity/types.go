package acuity

import (
	"fmt"
	"strconv"
	"time"
)

// DateTimeLayout is the offset-qualified timestamp format the provider uses.
const DateTimeLayout = "2006-01-02T15:04:05-0700"

// Calendar is a provider calendar; each specialist owns one.
type Calendar struct {
	ID          int64  `json:"id" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Timezone    string `json:"timezone"`
}

// AppointmentType is an entry of the provider's examination catalog.
type AppointmentType struct {
	ID          int64   `json:"id" validate:"required,gt=0"`
	Name        string  `json:"name" validate:"required"`
	Active      bool    `json:"active"`
	Description string  `json:"description"`
	Duration    int     `json:"duration" validate:"gte=0"`
	Price       string  `json:"price"`
	Category    string  `json:"category"`
	Private     bool    `json:"private"`
	CalendarIDs []int64 `json:"calendarIDs"`
}

// AvailableDate is a day with at least one open slot.
type AvailableDate struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// AvailableTime is an open slot start.
type AvailableTime struct {
	Time           string `json:"time" validate:"required,acuitytime"`
	SlotsAvailable int    `json:"slotsAvailable" validate:"gte=0"`
}

// Start parses the slot start.
func (t AvailableTime) Start() (time.Time, error) {
	return time.Parse(DateTimeLayout, t.Time)
}

// Appointment is the provider-owned appointment record.
type Appointment struct {
	ID                int64  `json:"id" validate:"required,gt=0"`
	CalendarID        int64  `json:"calendarID" validate:"required,gt=0"`
	AppointmentTypeID int64  `json:"appointmentTypeID" validate:"required,gt=0"`
	Datetime          string `json:"datetime" validate:"required,acuitytime"`
	Duration          string `json:"duration" validate:"omitempty,numeric"`
	Canceled          bool   `json:"canceled"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Calendar          string `json:"calendar"`
	Type              string `json:"type"`
	Notes             string `json:"notes"`
}

// Start parses the appointment start time.
func (a Appointment) Start() (time.Time, error) {
	start, err := time.Parse(DateTimeLayout, a.Datetime)
	if err != nil {
		return time.Time{}, fmt.Errorf("acuity: parse appointment datetime %q: %w", a.Datetime, err)
	}
	return start, nil
}

// DurationMinutes returns the appointment length, zero when unknown.
func (a Appointment) DurationMinutes() int {
	mins, err := strconv.Atoi(a.Duration)
	if err != nil {
		return 0
	}
	return mins
}

// FieldValue fills an intake form field on appointment creation.
type FieldValue struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// CreateAppointmentRequest books a slot in the provider.
type CreateAppointmentRequest struct {
	Datetime          time.Time    `json:"-"`
	AppointmentTypeID int64        `json:"appointmentTypeID"`
	CalendarID        int64        `json:"calendarID"`
	FirstName         string       `json:"firstName"`
	LastName          string       `json:"lastName"`
	Email             string       `json:"email,omitempty"`
	Phone             string       `json:"phone,omitempty"`
	Notes             string       `json:"notes,omitempty"`
	Fields            []FieldValue `json:"fields,omitempty"`
}

// UpdateAppointmentRequest changes an appointment. A non-zero Datetime reschedules it.
type UpdateAppointmentRequest struct {
	Datetime   time.Time    `json:"-"`
	CalendarID int64        `json:"-"`
	FirstName  string       `json:"firstName,omitempty"`
	LastName   string       `json:"lastName,omitempty"`
	Email      string       `json:"email,omitempty"`
	Phone      string       `json:"phone,omitempty"`
	Notes      string       `json:"notes,omitempty"`
	Fields     []FieldValue `json:"fields,omitempty"`
}

// Form is an intake form attached to appointment types.
type Form struct {
	ID                 int64       `json:"id" validate:"required,gt=0"`
	Name               string      `json:"name" validate:"required"`
	Description        string      `json:"description"`
	Hidden             bool        `json:"hidden"`
	AppointmentTypeIDs []int64     `json:"appointmentTypeIDs"`
	Fields             []FormField `json:"fields"`
}

// FormField is a single intake question.
type FormField struct {
	ID       int64    `json:"id" validate:"required,gt=0"`
	Name     string   `json:"name" validate:"required"`
	Type     string   `json:"type" validate:"required"`
	Required bool     `json:"required"`
	Options  []string `json:"options"`
}

// AvailabilityQuery scopes availability lookups.
type AvailabilityQuery struct {
	AppointmentTypeID int64
	CalendarID        int64
	// Month is YYYY-MM for date lookups; Date is YYYY-MM-DD for time lookups.
	Month string
	Date  string
}

type errorEnvelope struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}
