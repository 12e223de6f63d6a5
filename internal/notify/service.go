// Package notify delivers transactional email for the booking core.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// Built-in template names.
const (
	TemplateInvitation    = "invitation"
	TemplateBookingBooked = "booking_confirmed"
	TemplateBookingStatus = "booking_status_changed"
)

// ErrUnknownTemplate is returned for unregistered template names.
var ErrUnknownTemplate = errors.New("notify: unknown template")

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("Monday, January 2, 2006 at 15:04 UTC") },
	"humanize": func(s string) string {
		return strings.ReplaceAll(s, "-", " ")
	},
}

var builtinTemplates = map[string][2]string{
	TemplateInvitation: {
		`You're invited to join {{.OrganizationName}}`,
		`Hello{{if .Name}} {{.Name}}{{end}},

{{if .InviterName}}{{.InviterName}} has invited you{{else}}You have been invited{{end}} to book examinations with {{.OrganizationName}}.

Accept the invitation: {{.AcceptURL}}
{{if not .ExpiresAt.IsZero}}
This link expires on {{date .ExpiresAt}}.
{{end}}`,
	},
	TemplateBookingBooked: {
		`Exam booked for {{date .ExamDate}}`,
		`Hello{{if .RecipientName}} {{.RecipientName}}{{end}},

Your {{.ExamType}} booking is confirmed for {{date .ExamDate}}.

Booking reference: {{.BookingID}}
`,
	},
	TemplateBookingStatus: {
		`Booking {{humanize .ToStatus}}`,
		`Hello{{if .RecipientName}} {{.RecipientName}}{{end}},

The {{.ExamType}} booking scheduled for {{date .ExamDate}} changed from {{humanize .FromStatus}} to {{humanize .ToStatus}}.
{{if .Notes}}
Notes: {{.Notes}}
{{end}}
Booking reference: {{.BookingID}}
`,
	},
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Invitation is an invite to join an organization.
type Invitation struct {
	Email            string
	Name             string
	OrganizationName string
	InviterName      string
	AcceptURL        string
	ExpiresAt        time.Time
}

// Service renders templates and hands them to an EmailSender.
type Service struct {
	email  EmailSender
	logger *logging.Logger

	mu        sync.RWMutex
	templates map[string]emailTemplate
}

// NewService creates a notification service with the built-in templates.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	s := &Service{email: email, logger: logger, templates: map[string]emailTemplate{}}
	for name, tpl := range builtinTemplates {
		if err := s.RegisterTemplate(name, tpl[0], tpl[1]); err != nil {
			panic(err)
		}
	}
	return s
}

// RegisterTemplate adds or replaces a named template.
func (s *Service) RegisterTemplate(name, subject, body string) error {
	subj, err := template.New(name + ".subject").Funcs(templateFuncs).Option("missingkey=error").Parse(subject)
	if err != nil {
		return fmt.Errorf("notify: parse %s subject: %w", name, err)
	}
	text, err := template.New(name + ".body").Funcs(templateFuncs).Option("missingkey=error").Parse(body)
	if err != nil {
		return fmt.Errorf("notify: parse %s body: %w", name, err)
	}
	s.mu.Lock()
	s.templates[name] = emailTemplate{subject: subj, body: text}
	s.mu.Unlock()
	return nil
}

// SendTemplated renders the named template with data and sends it to one recipient.
func (s *Service) SendTemplated(ctx context.Context, to, toName, name string, data any) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("notify: recipient required")
	}
	s.mu.RLock()
	tpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return fmt.Errorf("notify: render %s subject: %w", name, err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return fmt.Errorf("notify: render %s body: %w", name, err)
	}

	msg := EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()) + "\n",
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Debug("templated email sent", "template", name)
	return nil
}

// SendInvitationEmail sends an organization invite.
func (s *Service) SendInvitationEmail(ctx context.Context, inv Invitation) error {
	if strings.TrimSpace(inv.AcceptURL) == "" {
		return errors.New("notify: invitation accept url required")
	}
	if strings.TrimSpace(inv.OrganizationName) == "" {
		return errors.New("notify: invitation organization required")
	}
	return s.SendTemplated(ctx, inv.Email, inv.Name, TemplateInvitation, inv)
}
