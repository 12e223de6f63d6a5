package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func TestSendInvitationEmail(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, quietLogger())

	err := svc.SendInvitationEmail(context.Background(), Invitation{
		Email:            "new.referrer@example.com",
		Name:             "Sam",
		OrganizationName: "Harbor Legal",
		InviterName:      "Jordan",
		AcceptURL:        "https://app.example.com/invite/abc",
		ExpiresAt:        time.Date(2025, 10, 8, 17, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "new.referrer@example.com", msg.To)
	assert.Equal(t, "Sam", msg.ToName)
	assert.Equal(t, "You're invited to join Harbor Legal", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Sam,")
	assert.Contains(t, msg.Body, "Jordan has invited you to book examinations with Harbor Legal.")
	assert.Contains(t, msg.Body, "https://app.example.com/invite/abc")
	assert.Contains(t, msg.Body, "Wednesday, October 8, 2025 at 17:00 UTC")
}

func TestSendInvitationEmail_RequiresLinkAndOrganization(t *testing.T) {
	svc := NewService(&recordingSender{}, quietLogger())

	assert.Error(t, svc.SendInvitationEmail(context.Background(), Invitation{Email: "a@example.com", OrganizationName: "Org"}))
	assert.Error(t, svc.SendInvitationEmail(context.Background(), Invitation{Email: "a@example.com", AcceptURL: "https://x"}))
	assert.Error(t, svc.SendInvitationEmail(context.Background(), Invitation{OrganizationName: "Org", AcceptURL: "https://x"}))
}

func TestSendTemplated_CustomAndUnknown(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, quietLogger())
	require.NoError(t, svc.RegisterTemplate("report_ready", "Report for {{.Patient}}", "The report for {{.Patient}} is ready."))

	require.NoError(t, svc.SendTemplated(context.Background(), "ops@example.com", "", "report_ready", map[string]string{"Patient": "case 12"}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Report for case 12", sender.sent[0].Subject)
	assert.Equal(t, "The report for case 12 is ready.\n", sender.sent[0].Body)

	err := svc.SendTemplated(context.Background(), "ops@example.com", "", "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	err = svc.SendTemplated(context.Background(), "ops@example.com", "", "report_ready", map[string]string{})
	assert.Error(t, err, "missing keys fail rendering")
}

func TestRegisterTemplate_RejectsBadSyntax(t *testing.T) {
	svc := NewService(nil, quietLogger())
	assert.Error(t, svc.RegisterTemplate("broken", "{{.Subject", "body"))
}

func TestSendTemplated_PropagatesSenderError(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(sender, quietLogger())

	err := svc.SendTemplated(context.Background(), "a@example.com", "", TemplateBookingBooked, bookingMessage{
		BookingID: "b-1", ExamType: "IME", ExamDate: time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC),
	})
	assert.ErrorContains(t, err, "smtp down")
}
