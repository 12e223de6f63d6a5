package bookings

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/compliance"
	"github.com/wolfman30/exam-scheduling/internal/events"
	"github.com/wolfman30/exam-scheduling/internal/identity"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

type memData struct {
	bookings map[uuid.UUID]Booking
	progress []Progress
	events   []string
}

func (d memData) clone() memData {
	out := memData{
		bookings: make(map[uuid.UUID]Booking, len(d.bookings)),
		progress: append([]Progress(nil), d.progress...),
		events:   append([]string(nil), d.events...),
	}
	for id, b := range d.bookings {
		out.bookings[id] = b
	}
	return out
}

// memStore serializes transactions and publishes their writes only on commit.
type memStore struct {
	txMu   sync.Mutex
	dataMu sync.RWMutex
	data   memData

	specialists map[uuid.UUID]Specialist
	failCommit  bool
	commits     int
	onLock      func(id uuid.UUID)
}

func newMemStore(specialists ...Specialist) *memStore {
	s := &memStore{
		data:        memData{bookings: map[uuid.UUID]Booking{}},
		specialists: map[uuid.UUID]Specialist{},
	}
	for _, sp := range specialists {
		s.specialists[sp.ID] = sp
	}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.dataMu.RLock()
	work := s.data.clone()
	s.dataMu.RUnlock()

	if err := fn(&memTx{store: s, data: &work}); err != nil {
		return err
	}
	if s.failCommit {
		return &CommitError{Err: errors.New("connection reset by peer")}
	}
	s.dataMu.Lock()
	s.data = work
	s.commits++
	s.dataMu.Unlock()
	return nil
}

func (s *memStore) Specialist(ctx context.Context, id uuid.UUID) (*Specialist, error) {
	sp, ok := s.specialists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sp, nil
}

func (s *memStore) SpecialistByUserID(ctx context.Context, userID uuid.UUID) (*Specialist, error) {
	for _, sp := range s.specialists {
		if sp.UserID == userID {
			out := sp
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	b, ok := s.data.bookings[id]
	if !ok || b.Status == StatusProvisional {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *memStore) FindByAppointmentID(ctx context.Context, appointmentID int64) (*Booking, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	for _, b := range s.data.bookings {
		if b.AcuityAppointmentID != nil && *b.AcuityAppointmentID == appointmentID {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) List(ctx context.Context, scope Scope, filter ListFilter) ([]Booking, int, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var matched []Booking
	for _, b := range s.data.bookings {
		if b.Status == StatusProvisional || !scopeAllows(scope, b) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, b.Status) {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ExamDate.After(matched[j].ExamDate) })

	start := (filter.Page - 1) * filter.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (s *memStore) ListProgress(ctx context.Context, bookingID uuid.UUID) ([]Progress, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []Progress
	for i := len(s.data.progress) - 1; i >= 0; i-- {
		if s.data.progress[i].BookingID == bookingID {
			out = append(out, s.data.progress[i])
		}
	}
	return out, nil
}

func (s *memStore) ListForReconcile(ctx context.Context, from, to time.Time, limit int) ([]Booking, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []Booking
	for _, b := range s.data.bookings {
		if b.AcuityAppointmentID == nil || (b.Status != StatusScheduled && b.Status != StatusRescheduled) {
			continue
		}
		if b.ExamDate.Before(from) || b.ExamDate.After(to) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExamDate.Before(out[j].ExamDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) booking(id uuid.UUID) (Booking, bool) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	b, ok := s.data.bookings[id]
	return b, ok
}

func (s *memStore) count() int {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return len(s.data.bookings)
}

func (s *memStore) emitted() []string {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return append([]string(nil), s.data.events...)
}

func (s *memStore) put(b Booking) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.data.bookings[b.ID] = b
}

func scopeAllows(scope Scope, b Booking) bool {
	if scope.All {
		return true
	}
	for _, id := range scope.ReferrerIDs {
		if id == b.ReferrerID {
			return true
		}
	}
	if scope.SpecialistID != nil && b.SpecialistID != nil && *scope.SpecialistID == *b.SpecialistID {
		return true
	}
	return scope.OrgID != nil && *scope.OrgID == b.OrgID
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memTx struct {
	store *memStore
	data  *memData
}

func (t *memTx) LockSlot(ctx context.Context, specialistID uuid.UUID, at time.Time) error {
	return nil
}

func (t *memTx) SlotTaken(ctx context.Context, specialistID uuid.UUID, at time.Time) (bool, error) {
	for _, b := range t.data.bookings {
		if b.SpecialistID != nil && *b.SpecialistID == specialistID && b.ExamDate.Equal(at) && containsStatus(activeStatuses, b.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Insert(ctx context.Context, b *Booking) error {
	if taken, _ := t.SlotTaken(ctx, *b.SpecialistID, b.ExamDate); taken {
		return apperr.SlotUnavailable()
	}
	t.data.bookings[b.ID] = *b
	return nil
}

func (t *memTx) ConfirmExternal(ctx context.Context, id uuid.UUID, appointmentID int64, durationMinutes int, at time.Time) error {
	b := t.data.bookings[id]
	b.AcuityAppointmentID = &appointmentID
	b.DurationMinutes = durationMinutes
	b.Status = StatusScheduled
	b.ScheduledAt = &at
	b.UpdatedAt = at
	t.data.bookings[id] = b
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	if t.store.onLock != nil {
		t.store.onLock(id)
	}
	b, ok := t.data.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// LatestProgress walks entries newest-appended first, matching ORDER BY seq DESC.
func (t *memTx) LatestProgress(ctx context.Context, bookingID uuid.UUID) (*Progress, error) {
	for i := len(t.data.progress) - 1; i >= 0; i-- {
		if t.data.progress[i].BookingID == bookingID {
			p := t.data.progress[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertProgress(ctx context.Context, p *Progress) error {
	t.data.progress = append(t.data.progress, *p)
	return nil
}

func (t *memTx) ApplyStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error {
	b := t.data.bookings[id]
	b.Status = status
	b.UpdatedAt = at
	switch status {
	case StatusCancelled:
		b.CancelledAt = &at
	case StatusPaymentReceived:
		b.CompletedAt = &at
	}
	t.data.bookings[id] = b
	return nil
}

func (t *memTx) Reschedule(ctx context.Context, id uuid.UUID, examDate time.Time, durationMinutes int, at time.Time) error {
	b := t.data.bookings[id]
	b.ExamDate = examDate
	b.DurationMinutes = durationMinutes
	b.UpdatedAt = at
	t.data.bookings[id] = b
	return nil
}

func (t *memTx) Emit(ctx context.Context, evt events.Event) error {
	t.data.events = append(t.data.events, evt.EventType())
	return nil
}

// fakeScheduler mimics the provider's appointment book.
type fakeScheduler struct {
	mu           sync.Mutex
	secret       string
	nextID       int64
	createErr    error
	createDelay  time.Duration
	appointments map[int64]acuity.Appointment
	created      []acuity.CreateAppointmentRequest
	cancelled    []int64
	getCalls     int
	getErr       error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{secret: "whsec", nextID: 1000, appointments: map[int64]acuity.Appointment{}}
}

func (f *fakeScheduler) CreateAppointment(ctx context.Context, req acuity.CreateAppointmentRequest) (*acuity.Appointment, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	appt := acuity.Appointment{
		ID:                f.nextID,
		CalendarID:        req.CalendarID,
		AppointmentTypeID: req.AppointmentTypeID,
		Datetime:          req.Datetime.Format(acuity.DateTimeLayout),
		Duration:          "60",
		FirstName:         req.FirstName,
		LastName:          req.LastName,
	}
	f.appointments[appt.ID] = appt
	return &appt, nil
}

func (f *fakeScheduler) GetAppointment(ctx context.Context, id int64) (*acuity.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	appt, ok := f.appointments[id]
	if !ok {
		return nil, apperr.New(apperr.KindProvider, "appointment "+strconv.FormatInt(id, 10)+" not found")
	}
	return &appt, nil
}

func (f *fakeScheduler) CancelAppointment(ctx context.Context, id int64, note string) (*acuity.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	appt := f.appointments[id]
	appt.Canceled = true
	f.appointments[id] = appt
	return &appt, nil
}

func (f *fakeScheduler) ValidateWebhookSignature(payload []byte, signature string) bool {
	return acuity.VerifySignature(f.secret, payload, signature)
}

func (f *fakeScheduler) moveAppointment(id int64, to time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt := f.appointments[id]
	appt.Datetime = to.Format(acuity.DateTimeLayout)
	f.appointments[id] = appt
}

func (f *fakeScheduler) cancelInProvider(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt := f.appointments[id]
	appt.Canceled = true
	f.appointments[id] = appt
}

func (f *fakeScheduler) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeDirectory struct {
	memberships map[uuid.UUID]identity.Membership
	teams       map[uuid.UUID][]uuid.UUID
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{memberships: map[uuid.UUID]identity.Membership{}, teams: map[uuid.UUID][]uuid.UUID{}}
}

func (d *fakeDirectory) Membership(ctx context.Context, userID uuid.UUID) (identity.Membership, error) {
	m, ok := d.memberships[userID]
	if !ok {
		return identity.Membership{}, identity.ErrNotFound
	}
	return m, nil
}

func (d *fakeDirectory) TeamMemberIDs(ctx context.Context, leadUserID uuid.UUID) ([]uuid.UUID, error) {
	return d.teams[leadUserID], nil
}

func (d *fakeDirectory) Contact(ctx context.Context, userID uuid.UUID) (identity.Contact, error) {
	return identity.Contact{UserID: userID, Email: "user@example.com"}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []compliance.Entry
	err     error
}

func (a *fakeAudit) Log(ctx context.Context, entry compliance.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type recordingInvalidator struct {
	mu        sync.Mutex
	calendars []int64
}

func (r *recordingInvalidator) InvalidateSpecialist(ctx context.Context, calendarID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calendars = append(r.calendars, calendarID)
	return nil
}

func (r *recordingInvalidator) InvalidateAll(ctx context.Context) error { return nil }
