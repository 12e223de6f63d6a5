package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/events"
)

const activeSlotConstraint = "bookings_active_slot_idx"

// PgxPool is the subset of pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Cipher protects patient fields at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	BlindIndex(value string) string
}

// Repository is the Postgres Store.
type Repository struct {
	pool   PgxPool
	cipher Cipher
}

func NewRepository(pool PgxPool, cipher Cipher) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	if cipher == nil {
		panic("bookings: cipher required")
	}
	return &Repository{pool: pool, cipher: cipher}
}

const bookingColumns = `
	id, org_id, referrer_id, specialist_id, acuity_appointment_id, appointment_type_id,
	patient_first_name, patient_last_name, patient_dob, patient_phone, patient_email,
	exam_type, exam_location, exam_date, duration_minutes, notes, status,
	scheduled_at, completed_at, cancelled_at, created_at, updated_at`

const progressColumns = `id, booking_id, from_status, to_status, actor_id, notes, metadata, created_at`

func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin: %w", err)
	}
	defer pgtx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if err := fn(&txStore{repo: r, q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return &CommitError{Err: err}
	}
	return nil
}

func (r *Repository) Specialist(ctx context.Context, id uuid.UUID) (*Specialist, error) {
	return r.specialistBy(ctx, "id", id)
}

func (r *Repository) SpecialistByUserID(ctx context.Context, userID uuid.UUID) (*Specialist, error) {
	return r.specialistBy(ctx, "user_id", userID)
}

func (r *Repository) specialistBy(ctx context.Context, column string, value uuid.UUID) (*Specialist, error) {
	query := `
		SELECT id, user_id, name, acuity_calendar_id, location, active
		FROM specialists
		WHERE ` + column + ` = $1
		LIMIT 1
	`
	var s Specialist
	err := r.pool.QueryRow(ctx, query, value).Scan(&s.ID, &s.UserID, &s.Name, &s.AcuityCalendarID, &s.Location, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: load specialist: %w", err)
	}
	return &s, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 AND status <> 'provisional'`
	return r.scanBooking(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) FindByAppointmentID(ctx context.Context, appointmentID int64) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE acuity_appointment_id = $1`
	return r.scanBooking(r.pool.QueryRow(ctx, query, appointmentID))
}

func (r *Repository) List(ctx context.Context, scope Scope, filter ListFilter) ([]Booking, int, error) {
	filter = filter.normalized()
	where, args := buildListWhere(scope, filter, r.cipher.BlindIndex)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("bookings: count: %w", err)
	}
	if total == 0 {
		return []Booking{}, 0, nil
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE %s ORDER BY exam_date DESC, id LIMIT $%d OFFSET $%d`,
		bookingColumns, where, len(args)-1, len(args))
	items, err := r.queryBookings(ctx, r.pool, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) ListProgress(ctx context.Context, bookingID uuid.UUID) ([]Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM booking_progress WHERE booking_id = $1 ORDER BY seq DESC`
	rows, err := r.pool.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list progress: %w", err)
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repository) ListForReconcile(ctx context.Context, from, to time.Time, limit int) ([]Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE acuity_appointment_id IS NOT NULL
		  AND status = ANY($1)
		  AND exam_date BETWEEN $2 AND $3
		ORDER BY exam_date
		LIMIT $4`
	return r.queryBookings(ctx, r.pool, query, statusStrings([]Status{StatusScheduled, StatusRescheduled}), from, to, limit)
}

// buildListWhere renders the scope and filters as a WHERE clause with positional args.
func buildListWhere(scope Scope, filter ListFilter, blindIndex func(string) string) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds := []string{"status <> 'provisional'"}
	if !scope.All {
		var union []string
		if len(scope.ReferrerIDs) > 0 {
			union = append(union, "referrer_id = ANY("+arg(scope.ReferrerIDs)+")")
		}
		if scope.SpecialistID != nil {
			union = append(union, "specialist_id = "+arg(*scope.SpecialistID))
		}
		if scope.OrgID != nil {
			union = append(union, "org_id = "+arg(*scope.OrgID))
		}
		if len(union) == 0 {
			union = append(union, "FALSE")
		}
		conds = append(conds, "("+strings.Join(union, " OR ")+")")
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(statusStrings(filter.Statuses))+")")
	}
	if len(filter.SpecialistIDs) > 0 {
		conds = append(conds, "specialist_id = ANY("+arg(filter.SpecialistIDs)+")")
	}
	if search := trimAndNormalize(filter.Search); search != "" {
		like := arg("%" + escapeLike(search) + "%")
		conds = append(conds, fmt.Sprintf("(exam_type ILIKE %s OR exam_location ILIKE %s OR patient_last_name_index = %s)",
			like, like, arg(blindIndex(search))))
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func (r *Repository) queryBookings(ctx context.Context, q querier, query string, args ...any) ([]Booking, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: query: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repository) scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b      Booking
		sealed [6]string
		status string
	)
	err := row.Scan(
		&b.ID, &b.OrgID, &b.ReferrerID, &b.SpecialistID, &b.AcuityAppointmentID, &b.AppointmentTypeID,
		&sealed[0], &sealed[1], &sealed[2], &sealed[3], &sealed[4],
		&b.ExamType, &b.ExamLocation, &b.ExamDate, &b.DurationMinutes, &sealed[5], &status,
		&b.ScheduledAt, &b.CompletedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: scan booking: %w", err)
	}
	b.Status = Status(status)

	targets := []*string{&b.Patient.FirstName, &b.Patient.LastName, &b.Patient.DateOfBirth, &b.Patient.Phone, &b.Patient.Email, &b.Notes}
	for i, target := range targets {
		plain, err := r.cipher.Decrypt(sealed[i])
		if err != nil {
			return nil, fmt.Errorf("bookings: decrypt booking %s: %w", b.ID, err)
		}
		*target = plain
	}
	return &b, nil
}

func scanProgress(row pgx.Row) (*Progress, error) {
	var (
		p        Progress
		from     *string
		to       string
		metadata []byte
	)
	if err := row.Scan(&p.ID, &p.BookingID, &from, &to, &p.ActorID, &p.Notes, &metadata, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: scan progress: %w", err)
	}
	if from != nil {
		s := Status(*from)
		p.FromStatus = &s
	}
	p.ToStatus = Status(to)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("bookings: decode progress metadata: %w", err)
		}
	}
	return &p, nil
}

type txStore struct {
	repo *Repository
	q    querier
}

func (t *txStore) LockSlot(ctx context.Context, specialistID uuid.UUID, at time.Time) error {
	key := fmt.Sprintf("booking-slot:%s:%d", specialistID, at.UTC().Unix())
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("bookings: lock slot: %w", err)
	}
	return nil
}

func (t *txStore) SlotTaken(ctx context.Context, specialistID uuid.UUID, at time.Time) (bool, error) {
	query := `
		SELECT id
		FROM bookings
		WHERE specialist_id = $1 AND exam_date = $2 AND status = ANY($3)
		FOR UPDATE
	`
	rows, err := t.q.Query(ctx, query, specialistID, at.UTC(), statusStrings(activeStatuses))
	if err != nil {
		return false, fmt.Errorf("bookings: check slot: %w", err)
	}
	taken := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("bookings: check slot: %w", err)
	}
	return taken, nil
}

func (t *txStore) Insert(ctx context.Context, b *Booking) error {
	plain := []string{b.Patient.FirstName, b.Patient.LastName, b.Patient.DateOfBirth, b.Patient.Phone, b.Patient.Email, b.Notes}
	sealed := make([]string, len(plain))
	for i, v := range plain {
		enc, err := t.repo.cipher.Encrypt(v)
		if err != nil {
			return fmt.Errorf("bookings: encrypt: %w", err)
		}
		sealed[i] = enc
	}

	query := `
		INSERT INTO bookings (
			id, org_id, referrer_id, specialist_id, appointment_type_id,
			patient_first_name, patient_last_name, patient_last_name_index, patient_dob, patient_phone, patient_email,
			exam_type, exam_location, exam_date, duration_minutes, notes, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`
	_, err := t.q.Exec(ctx, query,
		b.ID, b.OrgID, b.ReferrerID, b.SpecialistID, b.AppointmentTypeID,
		sealed[0], sealed[1], t.repo.cipher.BlindIndex(b.Patient.LastName), sealed[2], sealed[3], sealed[4],
		b.ExamType, b.ExamLocation, b.ExamDate.UTC(), b.DurationMinutes, sealed[5], string(b.Status), b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotConstraint {
			return apperr.SlotUnavailable()
		}
		return fmt.Errorf("bookings: insert: %w", err)
	}
	return nil
}

func (t *txStore) ConfirmExternal(ctx context.Context, id uuid.UUID, appointmentID int64, durationMinutes int, at time.Time) error {
	query := `
		UPDATE bookings
		SET acuity_appointment_id = $2, duration_minutes = $3, status = 'scheduled', scheduled_at = $4, updated_at = $4
		WHERE id = $1
	`
	if _, err := t.q.Exec(ctx, query, id, appointmentID, durationMinutes, at); err != nil {
		return fmt.Errorf("bookings: confirm external appointment: %w", err)
	}
	return nil
}

func (t *txStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return t.repo.scanBooking(t.q.QueryRow(ctx, query, id))
}

func (t *txStore) LatestProgress(ctx context.Context, bookingID uuid.UUID) (*Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM booking_progress WHERE booking_id = $1 ORDER BY seq DESC LIMIT 1`
	p, err := scanProgress(t.q.QueryRow(ctx, query, bookingID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (t *txStore) InsertProgress(ctx context.Context, p *Progress) error {
	var metadata []byte
	if len(p.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(p.Metadata); err != nil {
			return fmt.Errorf("bookings: marshal progress metadata: %w", err)
		}
	}
	var from *string
	if p.FromStatus != nil {
		s := string(*p.FromStatus)
		from = &s
	}
	query := `
		INSERT INTO booking_progress (id, booking_id, from_status, to_status, actor_id, notes, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := t.q.Exec(ctx, query, p.ID, p.BookingID, from, string(p.ToStatus), p.ActorID, p.Notes, metadata, p.CreatedAt); err != nil {
		return fmt.Errorf("bookings: insert progress: %w", err)
	}
	return nil
}

func (t *txStore) ApplyStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error {
	query := `
		UPDATE bookings
		SET status = $2::text,
			cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $3 ELSE cancelled_at END,
			completed_at = CASE WHEN $2::text = 'payment-received' THEN $3 ELSE completed_at END,
			updated_at = $3
		WHERE id = $1
	`
	if _, err := t.q.Exec(ctx, query, id, string(status), at); err != nil {
		return fmt.Errorf("bookings: apply status: %w", err)
	}
	return nil
}

func (t *txStore) Reschedule(ctx context.Context, id uuid.UUID, examDate time.Time, durationMinutes int, at time.Time) error {
	query := `
		UPDATE bookings
		SET exam_date = $2, duration_minutes = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := t.q.Exec(ctx, query, id, examDate.UTC(), durationMinutes, at); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotConstraint {
			return apperr.SlotUnavailable()
		}
		return fmt.Errorf("bookings: reschedule: %w", err)
	}
	return nil
}

func (t *txStore) Emit(ctx context.Context, evt events.Event) error {
	if _, err := events.Append(ctx, t.q, evt); err != nil {
		return fmt.Errorf("bookings: emit %s: %w", evt.EventType(), err)
	}
	return nil
}
