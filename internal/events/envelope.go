package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event is a versioned booking event carried through the outbox.
type Event interface {
	EventType() string
	Booking() string
	Timestamp() time.Time
}

// Envelope is what the outbox stores for one event.
type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  string          `json:"event_type"`
	BookingID  string          `json:"booking_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// AggregateKey is the outbox aggregate for a booking id.
func AggregateKey(bookingID string) string {
	return "booking:" + bookingID
}

// Execer is satisfied by pgx pools and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func seal(evt Event) (Envelope, error) {
	if evt == nil {
		return Envelope{}, errors.New("events: event required")
	}
	if evt.EventType() == "" {
		return Envelope{}, errors.New("events: event type missing")
	}
	if evt.Booking() == "" {
		return Envelope{}, fmt.Errorf("events: %s without booking id", evt.EventType())
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", evt.EventType(), err)
	}
	at := evt.Timestamp()
	if at.IsZero() {
		at = time.Now()
	}
	return Envelope{
		EventID:    uuid.New(),
		EventType:  evt.EventType(),
		BookingID:  evt.Booking(),
		OccurredAt: at.UTC(),
		Payload:    payload,
	}, nil
}

// Append writes evt to the outbox through exec. Pass the booking transaction so
// the event commits or rolls back with the change it announces.
func Append(ctx context.Context, exec Execer, evt Event) (Envelope, error) {
	if exec == nil {
		return Envelope{}, errors.New("events: exec required")
	}
	env, err := seal(evt)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if _, err := exec.Exec(ctx,
		`INSERT INTO outbox (id, aggregate, event_type, payload) VALUES ($1, $2, $3, $4)`,
		env.EventID, AggregateKey(env.BookingID), env.EventType, data,
	); err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}

// DecodeEnvelope parses an outbox payload and unmarshals the inner event into out.
func DecodeEnvelope(data []byte, out any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return Envelope{}, fmt.Errorf("events: decode %s payload: %w", env.EventType, err)
		}
	}
	return env, nil
}
