package acuity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/ratelimit"
)

type recordingInvalidator struct {
	mu          sync.Mutex
	specialists []int64
	all         int
}

func (r *recordingInvalidator) InvalidateSpecialist(_ context.Context, calendarID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specialists = append(r.specialists, calendarID)
	return nil
}

func (r *recordingInvalidator) InvalidateAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all++
	return nil
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingInvalidator, *countingLimiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	inv := &recordingInvalidator{}
	lim := &countingLimiter{}
	c := NewClient(Config{BaseURL: srv.URL, UserID: "123", APIKey: "secret", Timeout: time.Second}, lim, inv, nil, nil)
	return c, inv, lim
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListCalendarsUsesBasicAuthAndLimiter(t *testing.T) {
	c, _, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "123" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/calendars", r.URL.Path)
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 7, "name": "Dr. Ortiz", "timezone": "America/Chicago"}})
	})

	cals, err := c.ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, cals, 1)
	assert.Equal(t, int64(7), cals[0].ID)
	assert.Equal(t, 1, lim.calls)
}

func TestLimiterErrorShortCircuitsRequest(t *testing.T) {
	hit := false
	c, _, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit = true
		writeJSON(w, http.StatusOK, []any{})
	})
	lim.err = apperr.RateLimited(time.Minute)

	_, err := c.ListAppointmentTypes(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimitExceeded))
	assert.False(t, hit)
}

func TestRealLimiterIsConsulted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()
	lim := ratelimit.New(ratelimit.Config{MaxPerSecond: 10, MaxPerHour: 1})
	c := NewClient(Config{BaseURL: srv.URL, UserID: "u", APIKey: "k"}, lim, nil, nil, nil)

	_, err := c.ListCalendars(context.Background())
	require.NoError(t, err)
	_, err = c.ListCalendars(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimitExceeded))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  apperr.Kind
		wantMsg   string
		wantCause string
	}{
		{name: "service unavailable", status: http.StatusServiceUnavailable, body: "down", wantKind: apperr.KindServiceUnavailable, wantMsg: apperr.UnavailableMessage},
		{name: "bad gateway", status: http.StatusBadGateway, body: "", wantKind: apperr.KindServiceUnavailable, wantMsg: apperr.UnavailableMessage},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"nope"}`, wantKind: apperr.KindUnauthorized},
		{name: "structured provider message", status: http.StatusBadRequest, body: `{"status_code":400,"message":"The time is not available.","error":"not_available"}`, wantKind: apperr.KindProvider, wantMsg: apperr.ProviderMessage, wantCause: "The time is not available."},
		{name: "raw body", status: http.StatusInternalServerError, body: "pq: relation shard_07.appointments does not exist at db-internal-3", wantKind: apperr.KindProvider, wantMsg: apperr.ProviderMessage, wantCause: "shard_07"},
		{name: "empty body", status: http.StatusTeapot, body: "", wantKind: apperr.KindProvider, wantMsg: apperr.ProviderMessage, wantCause: "status 418"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.ListCalendars(context.Background())
			require.Error(t, err)
			appErr, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, appErr.Kind)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, appErr.Message)
			}
			if tt.wantCause != "" {
				require.Error(t, appErr.Err)
				assert.Contains(t, appErr.Err.Error(), tt.wantCause)
				assert.NotContains(t, appErr.Message, tt.wantCause)
				for _, v := range appErr.Details {
					assert.NotContains(t, fmt.Sprint(v), tt.wantCause)
				}
			}
		})
	}
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, &countingLimiter{}, nil, nil, nil)

	_, err := c.ListCalendars(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout), "got %v", err)
}

func TestConnectionRefusedClassifiedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	c := NewClient(Config{BaseURL: url}, &countingLimiter{}, nil, nil, nil)

	_, err := c.ListCalendars(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindNetwork), "got %v", err)
}

func TestShapeValidationRejectsMalformedEntities(t *testing.T) {
	tests := []struct {
		name string
		body string
		call func(c *Client) error
		msg  string
	}{
		{
			name: "calendar missing id",
			body: `[{"name":"x"}]`,
			call: func(c *Client) error { _, err := c.ListCalendars(context.Background()); return err },
			msg:  "Invalid calendar data received from provider",
		},
		{
			name: "appointment bad datetime",
			body: `{"id":1,"calendarID":2,"appointmentTypeID":3,"datetime":"tomorrow"}`,
			call: func(c *Client) error { _, err := c.GetAppointment(context.Background(), 1); return err },
			msg:  "Invalid appointment data received from provider",
		},
		{
			name: "non json",
			body: `<html>`,
			call: func(c *Client) error { _, err := c.GetAppointment(context.Background(), 1); return err },
			msg:  "Invalid appointment data received from provider",
		},
		{
			name: "availability wrong type",
			body: `[{"date":20251001}]`,
			call: func(c *Client) error {
				_, err := c.AvailableDates(context.Background(), AvailabilityQuery{AppointmentTypeID: 1, Month: "2025-10"})
				return err
			},
			msg: "Invalid availability data received from provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			err := tt.call(c)
			require.Error(t, err)
			appErr, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindInvalidResponse, appErr.Kind)
			assert.Equal(t, tt.msg, appErr.Message)
		})
	}
}

func TestAvailableTimesQuery(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/availability/times", r.URL.Path)
		assert.Equal(t, "2025-10-01", r.URL.Query().Get("date"))
		assert.Equal(t, "11", r.URL.Query().Get("appointmentTypeID"))
		assert.Equal(t, "7", r.URL.Query().Get("calendarID"))
		writeJSON(w, http.StatusOK, []map[string]any{{"time": "2025-10-01T09:00:00-0500", "slotsAvailable": 1}})
	})

	times, err := c.AvailableTimes(context.Background(), AvailabilityQuery{AppointmentTypeID: 11, CalendarID: 7, Date: "2025-10-01"})
	require.NoError(t, err)
	require.Len(t, times, 1)
	start, err := times[0].Start()
	require.NoError(t, err)
	assert.Equal(t, 14, start.UTC().Hour())
}

func TestCreateAppointmentInvalidatesCalendar(t *testing.T) {
	c, inv, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2025-10-01T09:00:00+0000", body["datetime"])
		assert.Equal(t, "Ada", body["firstName"])
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 555, "calendarID": 7, "appointmentTypeID": 11,
			"datetime": "2025-10-01T09:00:00+0000", "duration": "60",
		})
	})

	appt, err := c.CreateAppointment(context.Background(), CreateAppointmentRequest{
		Datetime:          time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC),
		AppointmentTypeID: 11,
		CalendarID:        7,
		FirstName:         "Ada",
		LastName:          "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(555), appt.ID)
	assert.Equal(t, 60, appt.DurationMinutes())
	assert.Equal(t, []int64{7}, inv.specialists)
}

func TestUpdateAppointmentReschedules(t *testing.T) {
	c, inv, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/appointments/555/reschedule", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 555, "calendarID": 8, "appointmentTypeID": 11,
			"datetime": "2025-10-02T10:00:00+0000",
		})
	})

	_, err := c.UpdateAppointment(context.Background(), 555, UpdateAppointmentRequest{
		Datetime: time.Date(2025, 10, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, inv.specialists)
}

func TestCancelAppointmentScopesInvalidationToLiveCalendar(t *testing.T) {
	c, inv, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/appointments/555":
			writeJSON(w, http.StatusOK, map[string]any{"id": 555, "calendarID": 7, "appointmentTypeID": 11, "datetime": "2025-10-01T09:00:00+0000"})
		case r.Method == http.MethodPut && r.URL.Path == "/appointments/555/cancel":
			writeJSON(w, http.StatusOK, map[string]any{"id": 555, "calendarID": 7, "appointmentTypeID": 11, "datetime": "2025-10-01T09:00:00+0000", "canceled": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	appt, err := c.CancelAppointment(context.Background(), 555, "patient request")
	require.NoError(t, err)
	assert.True(t, appt.Canceled)
	assert.Equal(t, []int64{7}, inv.specialists)
	assert.Zero(t, inv.all)
	assert.Equal(t, 2, lim.calls)
}

func TestCancelAppointmentFallsBackToGlobalInvalidation(t *testing.T) {
	c, inv, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 555, "calendarID": 7, "appointmentTypeID": 11, "datetime": "2025-10-01T09:00:00+0000", "canceled": true})
	})

	_, err := c.CancelAppointment(context.Background(), 555, "")
	require.NoError(t, err)
	assert.Empty(t, inv.specialists)
	assert.Equal(t, 1, inv.all)
}

func TestListFormsSkipsInvalidFields(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id": 1, "name": "Intake",
			"fields": []map[string]any{
				{"id": 10, "name": "Allergies", "type": "textbox"},
				{"id": 0, "name": "", "type": ""},
			},
		}})
	})

	forms, err := c.ListForms(context.Background())
	require.NoError(t, err)
	require.Len(t, forms, 1)
	require.Len(t, forms[0].Fields, 1)
	assert.Equal(t, "Allergies", forms[0].Fields[0].Name)
}
