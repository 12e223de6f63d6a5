package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// Reconciler periodically compares upcoming bookings with the provider so a
// missed webhook is eventually repaired.
type Reconciler struct {
	service    *Service
	windowDays int
	batchSize  int
	logger     *logging.Logger

	tick <-chan time.Time
	stop func()
}

type ReconcilerConfig struct {
	Service *Service
	Logger  *logging.Logger

	Interval   time.Duration
	WindowDays int
	BatchSize  int

	Tick <-chan time.Time
	Stop func()
}

// ReconcileSummary counts sweep outcomes.
type ReconcileSummary struct {
	Checked  int
	Changed  int
	Failed   int
	Deferred bool
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Service == nil {
		return nil, errors.New("bookings: reconciler requires service")
	}

	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 14
	}
	if windowDays > 90 {
		windowDays = 90
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Service.logger
	}

	return &Reconciler{
		service:    cfg.Service,
		windowDays: windowDays,
		batchSize:  batch,
		logger:     logger,
		tick:       tick,
		stop:       stop,
	}, nil
}

func (r *Reconciler) Start(ctx context.Context) {
	if r == nil {
		return
	}
	defer func() {
		if r.stop != nil {
			r.stop()
		}
	}()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.tick:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	summary, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("booking reconciliation failed", "error", err)
		return
	}
	if summary.Changed > 0 || summary.Failed > 0 || summary.Deferred {
		r.logger.Info("booking reconciliation finished",
			"checked", summary.Checked, "changed", summary.Changed, "failed", summary.Failed, "deferred", summary.Deferred)
	}
}

// RunOnce reconciles active bookings whose exam falls inside the window. It
// stops early when the provider budget is exhausted and resumes next tick.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	s := r.service
	now := s.now().UTC()
	due, err := s.store.ListForReconcile(ctx, now, now.AddDate(0, 0, r.windowDays), r.batchSize)
	if err != nil {
		return summary, err
	}

	for i := range due {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		b := &due[i]
		if b.AcuityAppointmentID == nil {
			continue
		}
		summary.Checked++

		appt, err := s.scheduler.GetAppointment(ctx, *b.AcuityAppointmentID)
		if apperr.IsKind(err, apperr.KindRateLimitExceeded) {
			summary.Deferred = true
			return summary, nil
		}
		if err != nil {
			summary.Failed++
			r.logger.Warn("reconcile fetch failed", "booking_id", b.ID, "acuity_appointment_id", *b.AcuityAppointmentID, "error", err)
			continue
		}

		outcome, err := s.reconcile(ctx, b, appt, "")
		if err != nil {
			summary.Failed++
			r.logger.Warn("reconcile booking failed", "booking_id", b.ID, "error", err)
			continue
		}
		if outcome != OutcomeUnchanged {
			summary.Changed++
			s.invalidate(ctx, appt.CalendarID)
		}
	}
	return summary, nil
}
