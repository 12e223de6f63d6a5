// Package acuity is a typed client for the Acuity Scheduling REST API.
package acuity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/observability/metrics"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

const defaultBaseURL = "https://acuityscheduling.com/api/v1"

var tracer = otel.Tracer("examsched.internal.acuity")

// Limiter gates every outbound request.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// CacheInvalidator drops cached availability after writes.
type CacheInvalidator interface {
	InvalidateSpecialist(ctx context.Context, calendarID int64) error
	InvalidateAll(ctx context.Context) error
}

// Config configures the provider client.
type Config struct {
	BaseURL       string
	UserID        string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client talks to the scheduling provider.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	userID        string
	apiKey        string
	webhookSecret string
	limiter       Limiter
	cache         CacheInvalidator
	validate      *validator.Validate
	logger        *logging.Logger
	metrics       *metrics.SchedulingMetrics
}

// NewClient creates a provider client. limiter is required; cache may be nil.
func NewClient(cfg Config, limiter Limiter, cache CacheInvalidator, logger *logging.Logger, m *metrics.SchedulingMetrics) *Client {
	if limiter == nil {
		panic("acuity: rate limiter required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	secret := cfg.WebhookSecret
	if secret == "" {
		secret = cfg.APIKey
	}
	return &Client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		userID:        cfg.UserID,
		apiKey:        cfg.APIKey,
		webhookSecret: secret,
		limiter:       limiter,
		cache:         cache,
		validate:      newValidator(),
		logger:        logger,
		metrics:       m,
	}
}

// ListCalendars returns every calendar on the account.
func (c *Client) ListCalendars(ctx context.Context) ([]Calendar, error) {
	var out []Calendar
	if err := c.do(ctx, request{op: "list_calendars", entity: "calendar", method: http.MethodGet, path: "/calendars"}, &out); err != nil {
		return nil, err
	}
	if err := c.validateAll("calendar", out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAppointmentTypes returns the examination catalog.
func (c *Client) ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error) {
	var out []AppointmentType
	if err := c.do(ctx, request{op: "list_appointment_types", entity: "appointment type", method: http.MethodGet, path: "/appointment-types"}, &out); err != nil {
		return nil, err
	}
	if err := c.validateAll("appointment type", out); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailableDates lists days with open slots in q.Month.
func (c *Client) AvailableDates(ctx context.Context, q AvailabilityQuery) ([]AvailableDate, error) {
	if q.AppointmentTypeID <= 0 || strings.TrimSpace(q.Month) == "" {
		return nil, apperr.Validation("appointment type and month are required", nil)
	}
	query := url.Values{}
	query.Set("month", q.Month)
	query.Set("appointmentTypeID", strconv.FormatInt(q.AppointmentTypeID, 10))
	if q.CalendarID > 0 {
		query.Set("calendarID", strconv.FormatInt(q.CalendarID, 10))
	}
	var out []AvailableDate
	if err := c.do(ctx, request{op: "available_dates", entity: "availability", method: http.MethodGet, path: "/availability/dates", query: query}, &out); err != nil {
		return nil, err
	}
	if err := c.validateAll("availability", out); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailableTimes lists open slot starts on q.Date.
func (c *Client) AvailableTimes(ctx context.Context, q AvailabilityQuery) ([]AvailableTime, error) {
	if q.AppointmentTypeID <= 0 || strings.TrimSpace(q.Date) == "" {
		return nil, apperr.Validation("appointment type and date are required", nil)
	}
	query := url.Values{}
	query.Set("date", q.Date)
	query.Set("appointmentTypeID", strconv.FormatInt(q.AppointmentTypeID, 10))
	if q.CalendarID > 0 {
		query.Set("calendarID", strconv.FormatInt(q.CalendarID, 10))
	}
	var out []AvailableTime
	if err := c.do(ctx, request{op: "available_times", entity: "availability", method: http.MethodGet, path: "/availability/times", query: query}, &out); err != nil {
		return nil, err
	}
	if err := c.validateAll("availability", out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAppointment fetches a live appointment.
func (c *Client) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	var out Appointment
	path := fmt.Sprintf("/appointments/%d", id)
	if err := c.do(ctx, request{op: "get_appointment", entity: "appointment", method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	if err := c.validateOne("appointment", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAppointment books a slot and invalidates the calendar's cached availability.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	if req.Datetime.IsZero() || req.AppointmentTypeID <= 0 {
		return nil, apperr.Validation("appointment time and type are required", nil)
	}
	body := struct {
		CreateAppointmentRequest
		Datetime string `json:"datetime"`
	}{CreateAppointmentRequest: req, Datetime: req.Datetime.Format(DateTimeLayout)}

	var out Appointment
	if err := c.do(ctx, request{op: "create_appointment", entity: "appointment", method: http.MethodPost, path: "/appointments", body: body}, &out); err != nil {
		return nil, err
	}
	if err := c.validateOne("appointment", &out); err != nil {
		return nil, err
	}
	c.invalidateCalendar(ctx, out.CalendarID)
	return &out, nil
}

// UpdateAppointment changes client details, or reschedules when req.Datetime is set.
func (c *Client) UpdateAppointment(ctx context.Context, id int64, req UpdateAppointmentRequest) (*Appointment, error) {
	path := fmt.Sprintf("/appointments/%d", id)
	op := "update_appointment"
	var body any = req
	if !req.Datetime.IsZero() {
		path += "/reschedule"
		op = "reschedule_appointment"
		reschedule := map[string]any{"datetime": req.Datetime.Format(DateTimeLayout)}
		if req.CalendarID > 0 {
			reschedule["calendarID"] = req.CalendarID
		}
		body = reschedule
	}

	var out Appointment
	if err := c.do(ctx, request{op: op, entity: "appointment", method: http.MethodPut, path: path, body: body}, &out); err != nil {
		return nil, err
	}
	if err := c.validateOne("appointment", &out); err != nil {
		return nil, err
	}
	c.invalidateCalendar(ctx, out.CalendarID)
	return &out, nil
}

// CancelAppointment cancels an appointment. The live appointment is fetched
// first to scope invalidation; when that fails the whole availability cache is
// dropped instead.
func (c *Client) CancelAppointment(ctx context.Context, id int64, note string) (*Appointment, error) {
	calendarID := int64(0)
	if live, err := c.GetAppointment(ctx, id); err != nil {
		c.logger.Warn("acuity: lookup before cancel failed", "appointment_id", id, "error", err)
	} else {
		calendarID = live.CalendarID
	}

	body := map[string]string{}
	if note = strings.TrimSpace(note); note != "" {
		body["cancelNote"] = note
	}
	var out Appointment
	path := fmt.Sprintf("/appointments/%d/cancel", id)
	if err := c.do(ctx, request{op: "cancel_appointment", entity: "appointment", method: http.MethodPut, path: path, body: body}, &out); err != nil {
		return nil, err
	}
	if err := c.validateOne("appointment", &out); err != nil {
		return nil, err
	}

	if calendarID > 0 {
		c.invalidateCalendar(ctx, calendarID)
	} else {
		c.invalidateAll(ctx)
	}
	return &out, nil
}

// ListForms returns intake forms. Fields that fail validation are dropped.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	var out []Form
	if err := c.do(ctx, request{op: "list_forms", entity: "form", method: http.MethodGet, path: "/forms"}, &out); err != nil {
		return nil, err
	}
	for i := range out {
		form := &out[i]
		if err := c.validate.Struct(form); err != nil {
			return nil, invalidResponse("form", err)
		}
		kept := form.Fields[:0]
		for _, field := range form.Fields {
			if err := c.validate.Struct(field); err != nil {
				c.logger.Warn("acuity: skipping invalid form field", "form_id", form.ID, "field_id", field.ID, "error", err)
				continue
			}
			kept = append(kept, field)
		}
		form.Fields = kept
	}
	return out, nil
}

type request struct {
	op     string
	entity string
	method string
	path   string
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "acuity."+req.op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", req.method))

	start := time.Now()
	err := c.roundTrip(ctx, req, out)
	c.metrics.ObserveProviderCall(req.op, outcomeLabel(err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		c.logger.Warn("acuity: request failed", "operation", req.op, "kind", apperr.KindOf(err), "error", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return apperr.Wrap(err, apperr.KindInternal, "could not encode scheduling request")
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, "could not build scheduling request")
	}
	httpReq.SetBasicAuth(c.userID, c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidResponse(req.entity, err)
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return apperr.Wrap(fmt.Errorf("acuity: status %d", status), apperr.KindServiceUnavailable, apperr.UnavailableMessage)
	case http.StatusUnauthorized:
		return apperr.Wrap(fmt.Errorf("acuity: status %d", status), apperr.KindUnauthorized, "The scheduling service rejected our credentials")
	}

	// Provider text stays in the cause for logs and never reaches the user message.
	var cause error
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && strings.TrimSpace(envelope.Message) != "" {
		cause = fmt.Errorf("acuity: status %d: %s (%s)", status, envelope.Message, envelope.Error)
	} else {
		text := strings.TrimSpace(string(body))
		if len(text) > 300 {
			text = text[:300]
		}
		if text == "" {
			text = http.StatusText(status)
		}
		cause = fmt.Errorf("acuity: status %d: %s", status, text)
	}
	return apperr.Wrap(cause, apperr.KindProvider, apperr.ProviderMessage).
		WithDetails(map[string]any{"status": status})
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(err, apperr.KindTimeout, "The scheduling service did not respond in time. Please try again.")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(err, apperr.KindTimeout, "The scheduling service did not respond in time. Please try again.")
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return apperr.Wrap(err, apperr.KindNetwork, "Could not reach the scheduling service. Please try again.")
	}
	return apperr.Wrap(err, apperr.KindUnknown, apperr.ProviderMessage)
}

func invalidResponse(entity string, err error) error {
	return apperr.Wrap(err, apperr.KindInvalidResponse, fmt.Sprintf("Invalid %s data received from provider", entity))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}

func (c *Client) validateOne(entity string, v any) error {
	if err := c.validate.Struct(v); err != nil {
		return invalidResponse(entity, err)
	}
	return nil
}

func validateSlice[T any](v *validator.Validate, items []T) error {
	for i := range items {
		if err := v.Struct(&items[i]); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (c *Client) validateAll(entity string, items any) error {
	var err error
	switch v := items.(type) {
	case []Calendar:
		err = validateSlice(c.validate, v)
	case []AppointmentType:
		err = validateSlice(c.validate, v)
	case []AvailableDate:
		err = validateSlice(c.validate, v)
	case []AvailableTime:
		err = validateSlice(c.validate, v)
	default:
		err = fmt.Errorf("acuity: no validator for %T", items)
	}
	if err != nil {
		return invalidResponse(entity, err)
	}
	return nil
}

func (c *Client) invalidateCalendar(ctx context.Context, calendarID int64) {
	if c.cache == nil {
		return
	}
	if calendarID <= 0 {
		c.invalidateAll(ctx)
		return
	}
	if err := c.cache.InvalidateSpecialist(ctx, calendarID); err != nil {
		c.logger.Warn("acuity: availability invalidation failed", "calendar_id", calendarID, "error", err)
	}
}

func (c *Client) invalidateAll(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateAll(ctx); err != nil {
		c.logger.Warn("acuity: availability invalidation failed", "scope", "all", "error", err)
	}
}
