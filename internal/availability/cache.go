// Package availability caches provider availability and the examination catalog in Redis.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/observability/metrics"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

const (
	catalogKey   = "catalog:appointment-types"
	scanPageSize = 200
)

// CacheConfig sets entry lifetimes.
type CacheConfig struct {
	AvailabilityTTL time.Duration
	CatalogTTL      time.Duration
}

// Cache is a best-effort Redis cache. Backend errors are logged and reported as misses.
type Cache struct {
	redis           *redis.Client
	availabilityTTL time.Duration
	catalogTTL      time.Duration
	logger          *logging.Logger
	metrics         *metrics.SchedulingMetrics
}

func NewCache(client *redis.Client, cfg CacheConfig, logger *logging.Logger, m *metrics.SchedulingMetrics) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 5 * time.Minute
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = 6 * time.Hour
	}
	return &Cache{
		redis:           client,
		availabilityTTL: cfg.AvailabilityTTL,
		catalogTTL:      cfg.CatalogTTL,
		logger:          logger,
		metrics:         m,
	}
}

// SpecialistPattern matches every availability key of one calendar.
func SpecialistPattern(calendarID int64) string {
	return fmt.Sprintf("specialist:%d:*", calendarID)
}

// AllSpecialistsPattern matches every availability key.
const AllSpecialistsPattern = "specialist:*"

func timesKey(calendarID int64, date string, appointmentTypeID int64) string {
	return fmt.Sprintf("specialist:%d:%s:%d", calendarID, date, appointmentTypeID)
}

func datesKey(calendarID int64, month string, appointmentTypeID int64) string {
	return fmt.Sprintf("specialist:%d:dates:%s:%d", calendarID, month, appointmentTypeID)
}

// GetAvailability returns cached open slots for a specialist, day and exam type.
func (c *Cache) GetAvailability(ctx context.Context, calendarID int64, date string, appointmentTypeID int64) ([]acuity.AvailableTime, bool) {
	var slots []acuity.AvailableTime
	ok := c.get(ctx, "availability", timesKey(calendarID, date, appointmentTypeID), &slots)
	return slots, ok
}

func (c *Cache) SetAvailability(ctx context.Context, calendarID int64, date string, appointmentTypeID int64, slots []acuity.AvailableTime) {
	c.set(ctx, timesKey(calendarID, date, appointmentTypeID), slots, c.availabilityTTL)
}

// GetAvailableDates returns cached open days for a month.
func (c *Cache) GetAvailableDates(ctx context.Context, calendarID int64, month string, appointmentTypeID int64) ([]acuity.AvailableDate, bool) {
	var dates []acuity.AvailableDate
	ok := c.get(ctx, "availability", datesKey(calendarID, month, appointmentTypeID), &dates)
	return dates, ok
}

func (c *Cache) SetAvailableDates(ctx context.Context, calendarID int64, month string, appointmentTypeID int64, dates []acuity.AvailableDate) {
	c.set(ctx, datesKey(calendarID, month, appointmentTypeID), dates, c.availabilityTTL)
}

// GetAppointmentTypeCatalog returns the cached examination catalog.
func (c *Cache) GetAppointmentTypeCatalog(ctx context.Context) ([]acuity.AppointmentType, bool) {
	var types []acuity.AppointmentType
	ok := c.get(ctx, "catalog", catalogKey, &types)
	return types, ok
}

func (c *Cache) SetAppointmentTypeCatalog(ctx context.Context, types []acuity.AppointmentType) {
	c.set(ctx, catalogKey, types, c.catalogTTL)
}

// Invalidate deletes every key matching pattern before returning.
func (c *Cache) Invalidate(ctx context.Context, pattern string) error {
	if c == nil || c.redis == nil {
		return nil
	}
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return fmt.Errorf("availability: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("availability: delete %s: %w", pattern, err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("availability cache invalidated", "pattern", pattern, "keys", removed)
	return nil
}

func (c *Cache) InvalidateSpecialist(ctx context.Context, calendarID int64) error {
	return c.Invalidate(ctx, SpecialistPattern(calendarID))
}

func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.Invalidate(ctx, AllSpecialistsPattern)
}

func (c *Cache) get(ctx context.Context, cache, key string, out any) bool {
	if c == nil || c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("availability cache read failed", "key", key, "error", err)
		}
		c.metrics.ObserveCacheLookup(cache, false)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("availability cache entry corrupt", "key", key, "error", err)
		c.metrics.ObserveCacheLookup(cache, false)
		return false
	}
	c.metrics.ObserveCacheLookup(cache, true)
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("availability cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("availability cache write failed", "key", key, "error", err)
	}
}
