// Package availability tracks each professional's online/offline state for
// urgent-match alerts. Toggles are capped per calendar day to prevent status
// flapping, and going offline requires a written justification.
package availability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"substitution-marketplace/internal/common/clock"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/common/metrics"
	"substitution-marketplace/internal/models"

	"github.com/redis/go-redis/v9"
)

const statusCacheTTL = 5 * time.Minute

// Config holds the register's tunables.
type Config struct {
	DailyToggleLimit    int
	MinJustificationLen int
}

// Service is the availability register.
type Service struct {
	config Config
	db     *sql.DB
	cache  *redis.Client
	clock  clock.Clock
	logger logger.Logger
}

func NewService(config Config, db *sql.DB, cache *redis.Client, clk clock.Clock, log logger.Logger) *Service {
	return &Service{
		config: config,
		db:     db,
		cache:  cache,
		clock:  clk,
		logger: log.WithFields(map[string]interface{}{"component": "availability"}),
	}
}

// SetOnline marks the professional as receiving urgent alerts. Fails with
// RATE_LIMIT_EXCEEDED once the daily activation cap is reached; the counter
// resets when the calendar day rolls over.
func (s *Service) SetOnline(ctx context.Context, professionalID string) error {
	now := s.clock.Now()

	err := s.toggle(ctx, professionalID, toggleRequest{
		targetStatus:  models.AvailabilityOnline,
		counterColumn: "daily_activations",
		stampColumn:   "last_activation_at",
		action:        "activation",
		now:           now,
	})
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("set_online", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	s.cacheStatus(ctx, professionalID, models.AvailabilityOnline)
	metrics.OperationsCompleted.WithLabelValues("set_online").Inc()

	s.logger.Info("professional online", map[string]interface{}{
		"professionalId": professionalID,
	})
	return nil
}

// SetOffline marks the professional as not receiving urgent alerts. Requires
// a justification of at least the configured length and honors the same
// per-day cap, counted separately from activations.
func (s *Service) SetOffline(ctx context.Context, professionalID, justification string) error {
	if len(strings.TrimSpace(justification)) < s.config.MinJustificationLen {
		metrics.OperationsRejected.WithLabelValues("set_offline", string(errors.ErrCodeValidation)).Inc()
		return errors.NewValidationError(
			fmt.Sprintf("justification must be at least %d characters", s.config.MinJustificationLen))
	}

	now := s.clock.Now()

	err := s.toggle(ctx, professionalID, toggleRequest{
		targetStatus:  models.AvailabilityOffline,
		counterColumn: "daily_deactivations",
		stampColumn:   "last_deactivation_at",
		action:        "deactivation",
		justification: justification,
		now:           now,
	})
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("set_offline", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	s.cacheStatus(ctx, professionalID, models.AvailabilityOffline)
	metrics.OperationsCompleted.WithLabelValues("set_offline").Inc()

	s.logger.Info("professional offline", map[string]interface{}{
		"professionalId": professionalID,
	})
	return nil
}

// Status returns the professional's current availability, consulting the
// cache the alerting surface reads before falling back to the database.
func (s *Service) Status(ctx context.Context, professionalID string) (string, error) {
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, statusCacheKey(professionalID)).Result(); err == nil {
			return val, nil
		}
	}

	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT availability FROM professionals WHERE id = $1`, professionalID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", errors.NewNotFoundError("professional", professionalID)
		}
		return "", errors.NewStorageError("availability status", err)
	}

	s.cacheStatus(ctx, professionalID, status)
	return status, nil
}

type toggleRequest struct {
	targetStatus  string
	counterColumn string
	stampColumn   string
	action        string
	justification string
	now           time.Time
}

// toggle runs the day-rollover check and the counter increment inside one
// transaction with a row lock, so two rapid clicks cannot both pass the cap.
func (s *Service) toggle(ctx context.Context, professionalID string, req toggleRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin toggle", err)
	}
	defer tx.Rollback()

	var counter int
	var lastAt sql.NullTime
	query := fmt.Sprintf(
		`SELECT %s, %s FROM professionals WHERE id = $1 FOR UPDATE`,
		req.counterColumn, req.stampColumn)
	err = tx.QueryRowContext(ctx, query, professionalID).Scan(&counter, &lastAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.NewNotFoundError("professional", professionalID)
		}
		return errors.NewStorageError("load toggle counters", err)
	}

	// Reset-on-read when the last recorded action was on a previous day.
	if !lastAt.Valid || !sameCalendarDay(lastAt.Time, req.now) {
		counter = 0
	}
	if counter >= s.config.DailyToggleLimit {
		return errors.NewRateLimitExceededError(req.action, s.config.DailyToggleLimit)
	}

	update := fmt.Sprintf(
		`UPDATE professionals
		 SET availability = $2, %s = $3, %s = $4, offline_justification = $5
		 WHERE id = $1`,
		req.counterColumn, req.stampColumn)
	_, err = tx.ExecContext(ctx, update,
		professionalID, req.targetStatus, counter+1, req.now, req.justification)
	if err != nil {
		return errors.NewStorageError("update availability", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit toggle", err)
	}
	return nil
}

func (s *Service) cacheStatus(ctx context.Context, professionalID, status string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, statusCacheKey(professionalID), status, statusCacheTTL).Err(); err != nil {
		s.logger.Warn("availability cache update failed", map[string]interface{}{
			"professionalId": professionalID,
			"error":          err.Error(),
		})
	}
}

func statusCacheKey(professionalID string) string {
	return "availability:" + professionalID
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
