package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExec struct {
	sql  string
	args []any
	err  error
}

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = sql
	s.args = args
	return pgconn.CommandTag{}, s.err
}

type untypedEvent struct{}

func (untypedEvent) EventType() string    { return "" }
func (untypedEvent) Booking() string      { return "42" }
func (untypedEvent) Timestamp() time.Time { return time.Time{} }

func TestAppendWritesProgressEvent(t *testing.T) {
	exec := &stubExec{}
	occurred := time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC)

	env, err := Append(context.Background(), exec, BookingProgressedV1{
		BookingID:  "42",
		FromStatus: "scheduled",
		ToStatus:   "cancelled",
		OccurredAt: occurred,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", env.BookingID)
	assert.Equal(t, occurred, env.OccurredAt)

	require.Len(t, exec.args, 4)
	assert.Contains(t, exec.sql, "INSERT INTO outbox")
	assert.Equal(t, env.EventID, exec.args[0])
	assert.Equal(t, "booking:42", exec.args[1])
	assert.Equal(t, TypeBookingProgressed, exec.args[2])

	payload, ok := exec.args[3].([]byte)
	require.True(t, ok)
	var evt BookingProgressedV1
	stored, err := DecodeEnvelope(payload, &evt)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, stored.EventID)
	assert.Equal(t, "scheduled", evt.FromStatus)
	assert.Equal(t, "cancelled", evt.ToStatus)
}

func TestAppendStampsCreatedEventWithCreationTime(t *testing.T) {
	exec := &stubExec{}
	created := time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC)

	env, err := Append(context.Background(), exec, BookingCreatedV1{BookingID: "7", AcuityAppointmentID: 555, CreatedAt: created})
	require.NoError(t, err)
	assert.Equal(t, created, env.OccurredAt)
	assert.Equal(t, TypeBookingCreated, env.EventType)
}

func TestAppendRejectsIncompleteEvents(t *testing.T) {
	exec := &stubExec{}

	_, err := Append(context.Background(), exec, nil)
	assert.Error(t, err)
	_, err = Append(context.Background(), exec, untypedEvent{})
	assert.Error(t, err)
	_, err = Append(context.Background(), exec, BookingCreatedV1{})
	assert.ErrorContains(t, err, "without booking id")
	_, err = Append(context.Background(), nil, BookingCreatedV1{BookingID: "7"})
	assert.Error(t, err)
	assert.Nil(t, exec.args)
}

func TestAppendWrapsExecFailure(t *testing.T) {
	exec := &stubExec{err: errors.New("outbox full")}

	_, err := Append(context.Background(), exec, BookingCreatedV1{BookingID: "7"})
	assert.ErrorContains(t, err, "append booking.created.v1")
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{"), nil)
	assert.Error(t, err)
}
