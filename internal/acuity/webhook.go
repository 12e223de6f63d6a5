package acuity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Acuity-Signature"

// Webhook actions sent by the provider.
const (
	ActionScheduled   = "appointment.scheduled"
	ActionRescheduled = "appointment.rescheduled"
	ActionCanceled    = "appointment.canceled"
	ActionChanged     = "appointment.changed"
)

// WebhookEvent is a parsed provider notification.
type WebhookEvent struct {
	Action            string
	AppointmentID     int64
	CalendarID        int64
	AppointmentTypeID int64
}

// ValidateWebhookSignature reports whether signature is the HMAC of payload
// under the client's shared secret.
func (c *Client) ValidateWebhookSignature(payload []byte, signature string) bool {
	return VerifySignature(c.webhookSecret, payload, signature)
}

// VerifySignature compares MACs in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign returns the signature the provider would send for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes the form-encoded webhook body.
func ParseWebhook(payload []byte) (WebhookEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return WebhookEvent{}, apperr.Wrap(err, apperr.KindValidation, "malformed webhook payload")
	}
	evt := WebhookEvent{Action: strings.TrimSpace(values.Get("action"))}
	if evt.Action == "" {
		return WebhookEvent{}, apperr.Validation("webhook action is required", nil)
	}
	evt.AppointmentID, err = strconv.ParseInt(strings.TrimSpace(values.Get("id")), 10, 64)
	if err != nil || evt.AppointmentID <= 0 {
		return WebhookEvent{}, apperr.Validation("webhook appointment id is invalid", map[string]any{"id": values.Get("id")})
	}
	evt.CalendarID, _ = strconv.ParseInt(strings.TrimSpace(values.Get("calendarID")), 10, 64)
	evt.AppointmentTypeID, _ = strconv.ParseInt(strings.TrimSpace(values.Get("appointmentTypeID")), 10, 64)
	return evt, nil
}
