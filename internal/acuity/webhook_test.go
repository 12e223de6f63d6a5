package acuity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte("action=appointment.rescheduled&id=555&calendarID=7&appointmentTypeID=11")
	sig := Sign("shh", payload)

	assert.True(t, VerifySignature("shh", payload, sig))
	assert.False(t, VerifySignature("other", payload, sig), "wrong secret")
	assert.False(t, VerifySignature("shh", []byte(string(payload)+"1"), sig), "tampered body")
	assert.False(t, VerifySignature("shh", payload, "not base64!"), "garbage signature")
	assert.False(t, VerifySignature("shh", payload, ""), "missing signature")
	assert.False(t, VerifySignature("", payload, Sign("", payload)), "empty secret")
}

func TestClientWebhookSecretDefaultsToAPIKey(t *testing.T) {
	c := NewClient(Config{APIKey: "api-key"}, &countingLimiter{}, nil, nil, nil)
	payload := []byte("action=appointment.canceled&id=1")
	assert.True(t, c.ValidateWebhookSignature(payload, Sign("api-key", payload)))
}

func TestParseWebhook(t *testing.T) {
	evt, err := ParseWebhook([]byte("action=appointment.canceled&id=555&calendarID=7&appointmentTypeID=11"))
	require.NoError(t, err)
	assert.Equal(t, WebhookEvent{Action: ActionCanceled, AppointmentID: 555, CalendarID: 7, AppointmentTypeID: 11}, evt)

	_, err = ParseWebhook([]byte("id=555"))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = ParseWebhook([]byte("action=appointment.canceled&id=abc"))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
