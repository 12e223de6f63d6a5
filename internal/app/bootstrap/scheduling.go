package bootstrap

import (
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/availability"
	"github.com/wolfman30/exam-scheduling/internal/bookings"
	"github.com/wolfman30/exam-scheduling/internal/compliance"
	appconfig "github.com/wolfman30/exam-scheduling/internal/config"
	"github.com/wolfman30/exam-scheduling/internal/events"
	"github.com/wolfman30/exam-scheduling/internal/identity"
	"github.com/wolfman30/exam-scheduling/internal/notify"
	"github.com/wolfman30/exam-scheduling/internal/observability/metrics"
	"github.com/wolfman30/exam-scheduling/internal/phi"
	"github.com/wolfman30/exam-scheduling/internal/ratelimit"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// SchedulingDeps are the process-wide resources the booking core runs on.
type SchedulingDeps struct {
	Pool    *pgxpool.Pool
	AuditDB *sql.DB
	Redis   *redis.Client
	Email   notify.EmailSender
	Metrics *metrics.SchedulingMetrics
	Logger  *logging.Logger
}

// Scheduling is the wired booking core.
type Scheduling struct {
	Bookings     *bookings.Service
	Repository   *bookings.Repository
	Availability *availability.Service
	Provider     *acuity.Client
	Limiter      *ratelimit.Limiter
	Reconciler   *bookings.Reconciler
	Deliverer    *events.Deliverer
}

// BuildScheduling assembles the provider client, cache, repository, lifecycle
// service and background workers from configuration.
func BuildScheduling(cfg *appconfig.Config, deps SchedulingDeps) (*Scheduling, error) {
	if cfg == nil || deps.Pool == nil {
		return nil, fmt.Errorf("bootstrap: config and postgres pool are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	key, err := phi.ParseKey(cfg.PHIEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: PHI_ENCRYPTION_KEY: %w", err)
	}
	encryptor, err := phi.NewEncryptor(key, []byte(cfg.PHIIndexKey))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: phi encryptor: %w", err)
	}

	cache := availability.NewCache(deps.Redis, availability.CacheConfig{
		AvailabilityTTL: cfg.AvailabilityCacheTTL,
		CatalogTTL:      cfg.AppointmentTypesCacheTTL,
	}, logger, deps.Metrics)
	if deps.Redis == nil {
		logger.Warn("redis unavailable; availability is served uncached")
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxPerSecond: cfg.AcuityMaxPerSecond,
		MaxPerHour:   cfg.AcuityMaxPerHour,
	}, ratelimit.WithLogger(logger), ratelimit.WithMetrics(deps.Metrics))

	provider := acuity.NewClient(acuity.Config{
		BaseURL:       cfg.AcuityBaseURL,
		UserID:        cfg.AcuityUserID,
		APIKey:        cfg.AcuityAPIKey,
		WebhookSecret: cfg.AcuityWebhookSecret,
		Timeout:       cfg.AcuityTimeout,
	}, limiter, cache, logger, deps.Metrics)

	repo := bookings.NewRepository(deps.Pool, encryptor)
	directory := identity.NewPostgresDirectory(deps.Pool)

	var audit bookings.AuditLogger
	if deps.AuditDB != nil {
		audit = compliance.NewAuditService(deps.AuditDB)
	}
	service := bookings.NewService(repo, provider, directory, audit, logger,
		bookings.WithMetrics(deps.Metrics),
		bookings.WithInvalidator(cache),
	)

	reconciler, err := bookings.NewReconciler(bookings.ReconcilerConfig{
		Service:    service,
		Logger:     logger,
		Interval:   cfg.ReconcileInterval,
		WindowDays: cfg.ReconcileWindowDays,
	})
	if err != nil {
		return nil, err
	}

	notifier := notify.NewBookingNotifier(
		notify.NewService(deps.Email, logger),
		directory,
		events.NewProcessedStore(deps.Pool),
		logger,
	)
	deliverer := events.NewDeliverer(events.NewOutboxStore(deps.Pool), notifier, logger).
		WithInterval(cfg.OutboxPollInterval)

	return &Scheduling{
		Bookings:     service,
		Repository:   repo,
		Availability: availability.NewService(cache, provider, logger),
		Provider:     provider,
		Limiter:      limiter,
		Reconciler:   reconciler,
		Deliverer:    deliverer,
	}, nil
}
