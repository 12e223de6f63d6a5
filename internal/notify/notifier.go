package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/events"
	"github.com/wolfman30/exam-scheduling/internal/identity"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

const notifierConsumer = "booking-notifier"

// ContactDirectory resolves a user's email address.
type ContactDirectory interface {
	Contact(ctx context.Context, userID uuid.UUID) (identity.Contact, error)
}

// ProcessedTracker deduplicates redelivered outbox entries.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

type bookingMessage struct {
	RecipientName string
	BookingID     string
	ExamType      string
	ExamDate      time.Time
	FromStatus    string
	ToStatus      string
	Notes         string
}

// BookingNotifier emails referrers about their bookings. It implements
// events.DeliveryHandler.
type BookingNotifier struct {
	service   *Service
	contacts  ContactDirectory
	processed ProcessedTracker
	logger    *logging.Logger
}

func NewBookingNotifier(service *Service, contacts ContactDirectory, processed ProcessedTracker, logger *logging.Logger) *BookingNotifier {
	if service == nil || contacts == nil || processed == nil {
		panic("notify: booking notifier requires service, contacts and processed store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{service: service, contacts: contacts, processed: processed, logger: logger}
}

// Handle sends the email for one outbox entry. Unknown event types are acknowledged.
func (n *BookingNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var (
		env       events.Envelope
		err       error
		referrer  string
		tplName   string
		message   bookingMessage
		skipActor string
	)
	switch entry.Type {
	case events.TypeBookingCreated:
		var evt events.BookingCreatedV1
		if env, err = events.DecodeEnvelope(entry.Payload, &evt); err != nil {
			return err
		}
		referrer = evt.ReferrerID
		tplName = TemplateBookingBooked
		message = bookingMessage{BookingID: evt.BookingID, ExamType: evt.ExamType, ExamDate: evt.ExamDate}
	case events.TypeBookingProgressed:
		var evt events.BookingProgressedV1
		if env, err = events.DecodeEnvelope(entry.Payload, &evt); err != nil {
			return err
		}
		referrer = evt.ReferrerID
		tplName = TemplateBookingStatus
		skipActor = evt.ActorID
		message = bookingMessage{
			BookingID:  evt.BookingID,
			ExamDate:   evt.ExamDate,
			FromStatus: evt.FromStatus,
			ToStatus:   evt.ToStatus,
			Notes:      evt.Notes,
			ExamType:   evt.ExamType,
		}
	default:
		return nil
	}

	eventID := env.EventID.String()
	done, err := n.processed.AlreadyProcessed(ctx, notifierConsumer, eventID)
	if err != nil {
		return err
	}
	if done {
		n.logger.Debug("booking notification already sent", "event_id", eventID)
		return nil
	}

	// People are not emailed about changes they made themselves.
	if skipActor != "" && skipActor == referrer {
		_, err := n.processed.MarkProcessed(ctx, notifierConsumer, eventID)
		return err
	}

	referrerID, err := uuid.Parse(referrer)
	if err != nil {
		return fmt.Errorf("notify: invalid referrer id %q: %w", referrer, err)
	}
	contact, err := n.contacts.Contact(ctx, referrerID)
	if errors.Is(err, identity.ErrNotFound) || (err == nil && contact.Email == "") {
		n.logger.Warn("referrer has no email address; notification skipped", "referrer_id", referrerID, "event_id", eventID)
		_, err := n.processed.MarkProcessed(ctx, notifierConsumer, eventID)
		return err
	}
	if err != nil {
		return fmt.Errorf("notify: resolve referrer contact: %w", err)
	}

	message.RecipientName = contact.FirstName
	if err := n.service.SendTemplated(ctx, contact.Email, contact.DisplayName(), tplName, message); err != nil {
		return err
	}
	if _, err := n.processed.MarkProcessed(ctx, notifierConsumer, eventID); err != nil {
		return err
	}
	n.logger.Info("booking notification sent", "event_id", eventID, "type", entry.Type, "booking_id", message.BookingID)
	return nil
}

var _ events.DeliveryHandler = (*BookingNotifier)(nil)
