// Package posting implements the substitution posting lifecycle: creation
// with scheduling validation and expiry computation, the explicit status
// state machine, owner-only cancellation and reopen, completion with
// professional stat updates, and read paths that surface expiry lazily.
package posting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"substitution-marketplace/internal/common/clock"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/common/metrics"
	"substitution-marketplace/internal/common/notify"
	"substitution-marketplace/internal/marketplace/countdown"
	"substitution-marketplace/internal/marketplace/search"
	"substitution-marketplace/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const viewCounterKeyPrefix = "posting:views:"

// Indexer mirrors the search indexer so the lifecycle can publish postings
// without depending on the Elasticsearch client directly.
type Indexer interface {
	Index(ctx context.Context, p *models.SubstitutionPosting) error
	Remove(ctx context.Context, postingID string) error
	Search(ctx context.Context, q search.Query) ([]string, error)
}

// Config holds the lifecycle tunables.
type Config struct {
	// ImmediateTTL is how long an IMMEDIATE posting stays open.
	ImmediateTTL time.Duration
}

// Service is the posting lifecycle.
type Service struct {
	config   Config
	db       *sql.DB
	cache    *redis.Client
	indexer  Indexer
	notifier notify.Notifier
	clock    clock.Clock
	logger   logger.Logger
}

func NewService(config Config, db *sql.DB, cache *redis.Client, indexer Indexer, notifier notify.Notifier, clk clock.Clock, log logger.Logger) *Service {
	return &Service{
		config:   config,
		db:       db,
		cache:    cache,
		indexer:  indexer,
		notifier: notifier,
		clock:    clk,
		logger:   log.WithFields(map[string]interface{}{"component": "posting"}),
	}
}

// CreateInput carries everything needed to open a posting.
type CreateInput struct {
	OwnerType            string     `json:"ownerType"`
	OwnerID              string     `json:"ownerId"`
	RequiredSpecialty    string     `json:"requiredSpecialty,omitempty"`
	MinimumYearsLicensed int        `json:"minimumYearsLicensed"`
	SchedulingMode       string     `json:"schedulingMode"`
	SpecificDate         *time.Time `json:"specificDate,omitempty"`
	RangeStart           *time.Time `json:"rangeStart,omitempty"`
	RangeEnd             *time.Time `json:"rangeEnd,omitempty"`
	CompensationMode     string     `json:"compensationMode"`
	DailyRate            float64    `json:"dailyRate,omitempty"`
	Percentage           float64    `json:"percentage,omitempty"`
	// Draft keeps the posting out of the open pool, for unfinished wizards.
	Draft bool `json:"draft,omitempty"`
}

// asDocument renders the input for schema validation, leaving unset date
// fields out entirely so "required" and "format" checks behave.
func (in *CreateInput) asDocument() map[string]interface{} {
	doc := map[string]interface{}{
		"ownerType":            in.OwnerType,
		"ownerId":              in.OwnerID,
		"minimumYearsLicensed": in.MinimumYearsLicensed,
		"schedulingMode":       in.SchedulingMode,
		"compensationMode":     in.CompensationMode,
		"draft":                in.Draft,
	}
	if in.RequiredSpecialty != "" {
		doc["requiredSpecialty"] = in.RequiredSpecialty
	}
	if in.SpecificDate != nil {
		doc["specificDate"] = in.SpecificDate.Format(time.RFC3339)
	}
	if in.RangeStart != nil {
		doc["rangeStart"] = in.RangeStart.Format(time.RFC3339)
	}
	if in.RangeEnd != nil {
		doc["rangeEnd"] = in.RangeEnd.Format(time.RFC3339)
	}
	if in.DailyRate != 0 {
		doc["dailyRate"] = in.DailyRate
	}
	if in.Percentage != 0 {
		doc["percentage"] = in.Percentage
	}
	return doc
}

// View is a posting as presented to callers: the record itself plus the
// derived remaining-time evaluation against whichever deadline currently
// applies.
type View struct {
	Posting   *models.SubstitutionPosting `json:"posting"`
	Remaining countdown.Remaining         `json:"remaining"`
	// Expired is set when the posting still reads OPEN or IN_SELECTION in
	// storage but its window has passed. Such postings accept no candidacies.
	Expired bool `json:"expired"`
}

// Create validates the payload, computes the expiry window from the
// scheduling mode, and persists the posting as OPEN (or DRAFT on request).
// Open postings are pushed to the search index and announced to online
// professionals matching the requirements.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*models.SubstitutionPosting, error) {
	if err := validatePayload(input); err != nil {
		metrics.OperationsRejected.WithLabelValues("create_posting", string(errors.ErrCodeValidation)).Inc()
		return nil, err
	}

	now := s.clock.Now()
	expiresAt, err := s.expiryFor(input, now)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues("create_posting", string(errors.ErrCodeValidation)).Inc()
		return nil, err
	}
	if err := validateCompensation(input); err != nil {
		metrics.OperationsRejected.WithLabelValues("create_posting", string(errors.ErrCodeValidation)).Inc()
		return nil, err
	}

	status := models.StatusOpen
	if input.Draft {
		status = models.StatusDraft
	}

	p := &models.SubstitutionPosting{
		ID:                   uuid.New().String(),
		OwnerType:            input.OwnerType,
		OwnerID:              input.OwnerID,
		RequiredSpecialty:    input.RequiredSpecialty,
		MinimumYearsLicensed: input.MinimumYearsLicensed,
		SchedulingMode:       input.SchedulingMode,
		SpecificDate:         input.SpecificDate,
		RangeStart:           input.RangeStart,
		RangeEnd:             input.RangeEnd,
		CompensationMode:     input.CompensationMode,
		DailyRate:            input.DailyRate,
		Percentage:           input.Percentage,
		Status:               status,
		CreatedAt:            now,
		ExpiresAt:            expiresAt,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO postings
		 (id, owner_type, owner_id, required_specialty, minimum_years_licensed,
		  scheduling_mode, specific_date, range_start, range_end,
		  compensation_mode, daily_rate, percentage,
		  status, created_at, expires_at, views)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0)`,
		p.ID, p.OwnerType, p.OwnerID, p.RequiredSpecialty, p.MinimumYearsLicensed,
		p.SchedulingMode, p.SpecificDate, p.RangeStart, p.RangeEnd,
		p.CompensationMode, p.DailyRate, p.Percentage,
		p.Status, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return nil, errors.NewStorageError("insert posting", err)
	}

	metrics.OperationsCompleted.WithLabelValues("create_posting").Inc()
	if status == models.StatusOpen {
		metrics.PostingsOpen.Inc()
		s.publish(ctx, p)
		s.alertMatching(ctx, p)
	}

	s.logger.Info("posting created", map[string]interface{}{
		"postingId":      p.ID,
		"ownerType":      p.OwnerType,
		"schedulingMode": p.SchedulingMode,
		"status":         string(p.Status),
	})
	return p, nil
}

// Get loads a posting and derives its presentation state. A posting stuck
// in AWAITING_CLINIC_CONFIRMATION past its deadline is transitioned to
// REJECTED_BY_CLINIC with outcome TIMED_OUT right here, so readers never
// need an external sweep to observe the timeout.
func (s *Service) Get(ctx context.Context, postingID string) (*View, error) {
	p, err := s.load(ctx, postingID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	if p.Status == models.StatusAwaitingConfirm &&
		p.ConfirmationDeadline != nil && !p.ConfirmationDeadline.After(now) {
		if err := s.applyConfirmationTimeout(ctx, p); err != nil {
			return nil, err
		}
	}

	p.Views += s.pendingViews(ctx, postingID)

	view := &View{Posting: p}
	switch p.Status {
	case models.StatusAwaitingConfirm:
		// A row can reach AWAITING without a deadline only through manual
		// edits; treat it as expired instead of dereferencing nil.
		if p.ConfirmationDeadline == nil {
			view.Remaining = countdown.Remaining{Expired: true}
			break
		}
		view.Remaining = countdown.Evaluate(*p.ConfirmationDeadline, now)
	case models.StatusOpen, models.StatusInSelection:
		view.Remaining = countdown.Evaluate(p.ExpiresAt, now)
		view.Expired = view.Remaining.Expired
	default:
		view.Remaining = countdown.Remaining{Expired: true}
	}
	return view, nil
}

// ListOpen returns open postings whose window has not passed, newest first,
// optionally filtered by required specialty.
func (s *Service) ListOpen(ctx context.Context, specialty string) ([]*models.SubstitutionPosting, error) {
	query := `SELECT ` + postingColumns + `
		 FROM postings
		 WHERE status IN ('OPEN', 'IN_SELECTION') AND expires_at > $1`
	args := []interface{}{s.clock.Now()}
	if specialty != "" {
		query += ` AND required_specialty = $2`
		args = append(args, specialty)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("list open postings", err)
	}
	defer rows.Close()

	var postings []*models.SubstitutionPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan posting", err)
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list open postings", err)
	}
	return postings, nil
}

// SearchOpen resolves candidates through the search index, then reloads the
// matched rows from the database so status and expiry reflect the source of
// truth rather than a stale document. Falls back to ListOpen when no index
// is configured.
func (s *Service) SearchOpen(ctx context.Context, specialty string, maxYearsAsked int) ([]*models.SubstitutionPosting, error) {
	if s.indexer == nil {
		return s.ListOpen(ctx, specialty)
	}

	ids, err := s.indexer.Search(ctx, search.Query{
		Specialty:     specialty,
		MaxYearsAsked: maxYearsAsked,
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + postingColumns + `
		 FROM postings
		 WHERE id = ANY($1) AND status IN ('OPEN', 'IN_SELECTION') AND expires_at > $2
		 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids), s.clock.Now())
	if err != nil {
		return nil, errors.NewStorageError("load searched postings", err)
	}
	defer rows.Close()

	var postings []*models.SubstitutionPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan posting", err)
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("load searched postings", err)
	}
	return postings, nil
}

// Cancel moves a posting to CANCELLED. Only the owner may cancel, and only
// before CONFIRMED. The row lock serializes cancellation against a racing
// selection so neither can strand the other's outcome.
func (s *Service) Cancel(ctx context.Context, postingID, actingOwnerID string) error {
	var wasOpen bool
	cancel := func(tx *sql.Tx, p *models.SubstitutionPosting) error {
		wasOpen = p.Status == models.StatusOpen || p.Status == models.StatusInSelection
		_, err := tx.ExecContext(ctx,
			`UPDATE postings SET status = $2 WHERE id = $1`, p.ID, models.StatusCancelled)
		if err != nil {
			return errors.NewStorageError("update posting status", err)
		}
		return nil
	}

	err := s.ownerTransition(ctx, postingID, actingOwnerID, models.StatusCancelled, cancel)
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("cancel_posting", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	metrics.OperationsCompleted.WithLabelValues("cancel_posting").Inc()
	// DRAFT and AWAITING postings never counted toward the open pool.
	if wasOpen {
		metrics.PostingsOpen.Dec()
	}
	if s.indexer != nil {
		if idxErr := s.indexer.Remove(ctx, postingID); idxErr != nil {
			s.logger.Warn("search index removal failed", map[string]interface{}{
				"postingId": postingID,
				"error":     idxErr.Error(),
			})
		}
	}

	s.logger.Info("posting cancelled", map[string]interface{}{"postingId": postingID})
	return nil
}

// Reopen returns a clinic-rejected posting to the open pool. Owner only.
// Immediate postings get a fresh expiry window; dated postings keep theirs,
// and cannot be reopened once the covered window has started.
func (s *Service) Reopen(ctx context.Context, postingID, actingOwnerID string) error {
	now := s.clock.Now()

	reopen := func(tx *sql.Tx, p *models.SubstitutionPosting) error {
		expiresAt := p.ExpiresAt
		if p.SchedulingMode == models.ScheduleImmediate {
			expiresAt = now.Add(s.config.ImmediateTTL)
		} else if !expiresAt.After(now) {
			return errors.NewValidationError("scheduling window has already passed")
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE postings
			 SET status = $2, expires_at = $3,
			     confirmation_token = NULL, confirmation_deadline = NULL, confirmation_outcome = NULL
			 WHERE id = $1`,
			p.ID, models.StatusOpen, expiresAt)
		if err != nil {
			return errors.NewStorageError("reopen posting", err)
		}

		// The candidacy rejected by the clinic would otherwise sit CHOSEN
		// forever, blocking both re-selection and a fresh application.
		_, err = tx.ExecContext(ctx,
			`UPDATE candidacies SET status = $2 WHERE posting_id = $1 AND status = $3`,
			p.ID, models.CandidacyRejected, models.CandidacyChosen)
		if err != nil {
			return errors.NewStorageError("release chosen candidacy", err)
		}

		p.ExpiresAt = expiresAt
		return nil
	}

	err := s.ownerTransition(ctx, postingID, actingOwnerID, models.StatusOpen, reopen)
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("reopen_posting", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	metrics.OperationsCompleted.WithLabelValues("reopen_posting").Inc()
	metrics.PostingsOpen.Inc()
	s.logger.Info("posting reopened", map[string]interface{}{"postingId": postingID})
	return nil
}

// CompletionReport is the attendance outcome fed back after a confirmed
// substitution took place.
type CompletionReport struct {
	Attended bool `json:"attended"`
	// Rating is the owner's 1-5 rating of the professional; 0 means none
	// was given.
	Rating int `json:"rating,omitempty"`
}

// Complete moves a CONFIRMED posting to COMPLETED and folds the attendance
// outcome into the chosen professional's stats.
func (s *Service) Complete(ctx context.Context, postingID, actingOwnerID string, report CompletionReport) error {
	if report.Rating < 0 || report.Rating > 5 {
		metrics.OperationsRejected.WithLabelValues("complete_posting", string(errors.ErrCodeValidation)).Inc()
		return errors.NewValidationError("rating must be between 1 and 5")
	}

	complete := func(tx *sql.Tx, p *models.SubstitutionPosting) error {
		var professionalID string
		err := tx.QueryRowContext(ctx,
			`SELECT professional_id FROM candidacies WHERE posting_id = $1 AND status = 'CHOSEN'`,
			p.ID).Scan(&professionalID)
		if err != nil {
			if err == sql.ErrNoRows {
				return errors.NewNotFoundError("chosen candidacy", p.ID)
			}
			return errors.NewStorageError("load chosen candidacy", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE postings SET status = $2 WHERE id = $1`, p.ID, models.StatusCompleted)
		if err != nil {
			return errors.NewStorageError("complete posting", err)
		}

		return s.updateProfessionalStats(ctx, tx, professionalID, report)
	}

	err := s.ownerTransition(ctx, postingID, actingOwnerID, models.StatusCompleted, complete)
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("complete_posting", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	metrics.OperationsCompleted.WithLabelValues("complete_posting").Inc()
	s.logger.Info("posting completed", map[string]interface{}{
		"postingId": postingID,
		"attended":  report.Attended,
	})
	return nil
}

// RecordView bumps the posting's view counter. Counts accumulate in the
// cache and are merged into reads; losing them on cache failure is
// acceptable, so errors are only logged.
func (s *Service) RecordView(ctx context.Context, postingID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Incr(ctx, viewCounterKeyPrefix+postingID).Err(); err != nil {
		s.logger.Warn("view counter increment failed", map[string]interface{}{
			"postingId": postingID,
			"error":     err.Error(),
		})
	}
}

// ownerTransition runs the shared guard sequence for owner-initiated
// transitions: lock the row, check ownership, check the adjacency table,
// then apply the mutation. When apply is nil a plain status update is
// issued.
func (s *Service) ownerTransition(ctx context.Context, postingID, actingOwnerID string, target models.PostingStatus, apply func(*sql.Tx, *models.SubstitutionPosting) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin transition", err)
	}
	defer tx.Rollback()

	p, err := lockPosting(ctx, tx, postingID)
	if err != nil {
		return err
	}
	if p.OwnerID != actingOwnerID {
		return errors.NewForbiddenError("only the posting owner may perform this action")
	}
	if err := GuardTransition(p.Status, target); err != nil {
		return err
	}

	if apply != nil {
		if err := apply(tx, p); err != nil {
			return err
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE postings SET status = $2 WHERE id = $1`, p.ID, target)
		if err != nil {
			return errors.NewStorageError("update posting status", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit transition", err)
	}
	return nil
}

func (s *Service) updateProfessionalStats(ctx context.Context, tx *sql.Tx, professionalID string, report CompletionReport) error {
	var completed, ratingCount int
	var attendanceRate, ratingAverage float64
	err := tx.QueryRowContext(ctx,
		`SELECT completed_substitutions, attendance_rate, rating_average, rating_count
		 FROM professionals WHERE id = $1 FOR UPDATE`,
		professionalID).Scan(&completed, &attendanceRate, &ratingAverage, &ratingCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.NewNotFoundError("professional", professionalID)
		}
		return errors.NewStorageError("load professional stats", err)
	}

	attendedScore := 0.0
	if report.Attended {
		attendedScore = 100.0
	}
	attendanceRate = (attendanceRate*float64(completed) + attendedScore) / float64(completed+1)
	completed++

	if report.Rating > 0 {
		ratingAverage = (ratingAverage*float64(ratingCount) + float64(report.Rating)) / float64(ratingCount+1)
		ratingCount++
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE professionals
		 SET completed_substitutions = $2, attendance_rate = $3, rating_average = $4, rating_count = $5
		 WHERE id = $1`,
		professionalID, completed, attendanceRate, ratingAverage, ratingCount)
	if err != nil {
		return errors.NewStorageError("update professional stats", err)
	}
	return nil
}

// applyConfirmationTimeout performs the lazy deadline flip. The update is
// conditional on the status still being AWAITING_CLINIC_CONFIRMATION so a
// concurrent sweep or explicit confirmation wins cleanly.
func (s *Service) applyConfirmationTimeout(ctx context.Context, p *models.SubstitutionPosting) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE postings
		 SET status = $2, confirmation_outcome = $3
		 WHERE id = $1 AND status = $4`,
		p.ID, models.StatusRejectedByClinic, models.ConfirmationTimedOut, models.StatusAwaitingConfirm)
	if err != nil {
		return errors.NewStorageError("apply confirmation timeout", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.ConfirmationsTimedOut.Inc()
		s.logger.Info("confirmation deadline elapsed", map[string]interface{}{
			"postingId": p.ID,
		})
		p.Status = models.StatusRejectedByClinic
		p.ConfirmationOutcome = models.ConfirmationTimedOut
		return nil
	}

	// Someone else resolved it first; reload for the fresh status.
	fresh, err := s.load(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *fresh
	return nil
}

func (s *Service) expiryFor(input *CreateInput, now time.Time) (time.Time, error) {
	switch input.SchedulingMode {
	case models.ScheduleImmediate:
		if input.SpecificDate != nil || input.RangeStart != nil || input.RangeEnd != nil {
			return time.Time{}, errors.NewValidationError("immediate postings take no date fields")
		}
		return now.Add(s.config.ImmediateTTL), nil

	case models.ScheduleSpecificDate:
		if input.SpecificDate == nil {
			return time.Time{}, errors.NewValidationError("specificDate is required for SPECIFIC_DATE postings")
		}
		if input.RangeStart != nil || input.RangeEnd != nil {
			return time.Time{}, errors.NewValidationError("range fields are not allowed for SPECIFIC_DATE postings")
		}
		if !input.SpecificDate.After(now) {
			return time.Time{}, errors.NewValidationError("specificDate must be in the future")
		}
		return *input.SpecificDate, nil

	case models.ScheduleRange:
		if input.RangeStart == nil || input.RangeEnd == nil {
			return time.Time{}, errors.NewValidationError("rangeStart and rangeEnd are required for RANGE postings")
		}
		if input.SpecificDate != nil {
			return time.Time{}, errors.NewValidationError("specificDate is not allowed for RANGE postings")
		}
		if !input.RangeEnd.After(*input.RangeStart) {
			return time.Time{}, errors.NewValidationError("rangeEnd must be after rangeStart")
		}
		if !input.RangeStart.After(now) {
			return time.Time{}, errors.NewValidationError("rangeStart must be in the future")
		}
		return *input.RangeStart, nil

	default:
		return time.Time{}, errors.NewValidationError(
			fmt.Sprintf("unknown scheduling mode %q", input.SchedulingMode))
	}
}

func validateCompensation(input *CreateInput) error {
	switch input.CompensationMode {
	case models.CompensationDailyRate:
		if input.DailyRate <= 0 {
			return errors.NewValidationError("dailyRate must be positive for DAILY_RATE postings")
		}
		if input.Percentage != 0 {
			return errors.NewValidationError("percentage is not allowed for DAILY_RATE postings")
		}
	case models.CompensationPercentage:
		if input.Percentage <= 0 || input.Percentage > 100 {
			return errors.NewValidationError("percentage must be between 0 and 100")
		}
		if input.DailyRate != 0 {
			return errors.NewValidationError("dailyRate is not allowed for PERCENTAGE postings")
		}
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unknown compensation mode %q", input.CompensationMode))
	}
	return nil
}

// publish pushes the posting to the search index. Index failures never fail
// the write path.
func (s *Service) publish(ctx context.Context, p *models.SubstitutionPosting) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Index(ctx, p); err != nil {
		s.logger.Warn("search index publish failed", map[string]interface{}{
			"postingId": p.ID,
			"error":     err.Error(),
		})
	}
}

// alertMatching notifies every online, non-suspended professional who meets
// the posting's requirements. Delivery is fire-and-forget.
func (s *Service) alertMatching(ctx context.Context, p *models.SubstitutionPosting) {
	if s.notifier == nil {
		return
	}

	query := `SELECT id FROM professionals
		 WHERE availability = 'ONLINE' AND suspended = false AND years_licensed >= $1`
	args := []interface{}{p.MinimumYearsLicensed}
	if p.RequiredSpecialty != "" {
		query += ` AND primary_specialty = $2`
		args = append(args, p.RequiredSpecialty)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Warn("matching professionals lookup failed", map[string]interface{}{
			"postingId": p.ID,
			"error":     err.Error(),
		})
		return
	}
	defer rows.Close()

	notified := 0
	for rows.Next() {
		var professionalID string
		if err := rows.Scan(&professionalID); err != nil {
			continue
		}
		s.notifier.Notify(ctx, professionalID,
			"A new urgent substitution matching your profile is open.",
			map[string]interface{}{
				"event":     notify.EventPostingCreated,
				"postingId": p.ID,
			})
		notified++
	}

	s.logger.Info("posting announced", map[string]interface{}{
		"postingId": p.ID,
		"notified":  notified,
	})
}

func (s *Service) pendingViews(ctx context.Context, postingID string) int64 {
	if s.cache == nil {
		return 0
	}
	delta, err := s.cache.Get(ctx, viewCounterKeyPrefix+postingID).Int64()
	if err != nil {
		return 0
	}
	return delta
}

const postingColumns = `id, owner_type, owner_id, required_specialty, minimum_years_licensed,
		scheduling_mode, specific_date, range_start, range_end,
		compensation_mode, daily_rate, percentage,
		status, created_at, expires_at, views,
		confirmation_token, confirmation_deadline, confirmation_outcome`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosting(row rowScanner) (*models.SubstitutionPosting, error) {
	var p models.SubstitutionPosting
	var specificDate, rangeStart, rangeEnd, confirmationDeadline sql.NullTime
	var confirmationToken, confirmationOutcome sql.NullString

	err := row.Scan(
		&p.ID, &p.OwnerType, &p.OwnerID, &p.RequiredSpecialty, &p.MinimumYearsLicensed,
		&p.SchedulingMode, &specificDate, &rangeStart, &rangeEnd,
		&p.CompensationMode, &p.DailyRate, &p.Percentage,
		&p.Status, &p.CreatedAt, &p.ExpiresAt, &p.Views,
		&confirmationToken, &confirmationDeadline, &confirmationOutcome)
	if err != nil {
		return nil, err
	}

	if specificDate.Valid {
		p.SpecificDate = &specificDate.Time
	}
	if rangeStart.Valid {
		p.RangeStart = &rangeStart.Time
	}
	if rangeEnd.Valid {
		p.RangeEnd = &rangeEnd.Time
	}
	if confirmationDeadline.Valid {
		p.ConfirmationDeadline = &confirmationDeadline.Time
	}
	p.ConfirmationToken = confirmationToken.String
	p.ConfirmationOutcome = confirmationOutcome.String
	return &p, nil
}

func (s *Service) load(ctx context.Context, postingID string) (*models.SubstitutionPosting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE id = $1`, postingID)
	p, err := scanPosting(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("posting", postingID)
		}
		return nil, errors.NewStorageError("load posting", err)
	}
	return p, nil
}

// lockPosting loads a posting inside tx with a row lock, serializing
// transition decisions against concurrent apply and select calls.
func lockPosting(ctx context.Context, tx *sql.Tx, postingID string) (*models.SubstitutionPosting, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE id = $1 FOR UPDATE`, postingID)
	p, err := scanPosting(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("posting", postingID)
		}
		return nil, errors.NewStorageError("lock posting", err)
	}
	return p, nil
}
