// Package candidacy is the ledger of applications against postings. It
// enforces at most one live candidacy per professional per posting, and owns
// the selection operation that atomically chooses one candidate, rejects the
// rest, and moves the posting into the confirmation handshake.
package candidacy

import (
	"context"
	"database/sql"
	"time"

	"substitution-marketplace/internal/common/clock"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/common/metrics"
	"substitution-marketplace/internal/common/notify"
	"substitution-marketplace/internal/marketplace/confirmation"
	"substitution-marketplace/internal/marketplace/eligibility"
	"substitution-marketplace/internal/marketplace/posting"
	"substitution-marketplace/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// Config holds the ledger tunables.
type Config struct {
	// ConfirmationTTL is how long the counter-party has to confirm after a
	// candidate is selected.
	ConfirmationTTL time.Duration
}

// Service is the candidacy ledger.
type Service struct {
	config   Config
	db       *sql.DB
	tokens   *confirmation.TokenStore
	notifier notify.Notifier
	clock    clock.Clock
	logger   logger.Logger
}

func NewService(config Config, db *sql.DB, tokens *confirmation.TokenStore, notifier notify.Notifier, clk clock.Clock, log logger.Logger) *Service {
	return &Service{
		config:   config,
		db:       db,
		tokens:   tokens,
		notifier: notifier,
		clock:    clk,
		logger:   log.WithFields(map[string]interface{}{"component": "candidacy"}),
	}
}

// Apply records a professional's application to a posting. Eligibility is
// re-evaluated here, at submission time, because professional state can
// change between page load and submit. The posting row is locked for the
// whole check-then-insert sequence so a racing selection or cancellation
// cannot slip in between.
func (s *Service) Apply(ctx context.Context, postingID, professionalID, message string) (*models.Candidacy, error) {
	c, err := s.apply(ctx, postingID, professionalID, message)
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("apply", string(errors.CodeOf(err))).Inc()
		}
		return nil, err
	}

	metrics.OperationsCompleted.WithLabelValues("apply").Inc()
	s.logger.Info("candidacy recorded", map[string]interface{}{
		"candidacyId":    c.ID,
		"postingId":      postingID,
		"professionalId": professionalID,
	})
	return c, nil
}

func (s *Service) apply(ctx context.Context, postingID, professionalID, message string) (*models.Candidacy, error) {
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStorageError("begin apply", err)
	}
	defer tx.Rollback()

	p, err := lockPostingForApply(ctx, tx, postingID)
	if err != nil {
		return nil, err
	}
	if !p.Status.AcceptsCandidacies() {
		return nil, errors.NewPostingClosedError(postingID, "posting is no longer accepting candidacies")
	}
	if p.IsExpired(now) {
		return nil, errors.NewPostingClosedError(postingID, "posting window has expired")
	}

	prof, err := loadProfessional(ctx, tx, professionalID)
	if err != nil {
		return nil, err
	}
	if check := eligibility.CanApply(prof, p); !check.Eligible {
		return nil, errors.NewNotEligibleError(check.Reason)
	}

	var blocking int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidacies
		 WHERE posting_id = $1 AND professional_id = $2 AND status <> 'REJECTED'`,
		postingID, professionalID).Scan(&blocking)
	if err != nil {
		return nil, errors.NewStorageError("check existing candidacy", err)
	}
	if blocking > 0 {
		return nil, errors.NewDuplicateCandidacyError(postingID, professionalID)
	}

	c := &models.Candidacy{
		ID:             uuid.New().String(),
		PostingID:      postingID,
		ProfessionalID: professionalID,
		Message:        message,
		Status:         models.CandidacyPending,
		CreatedAt:      now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO candidacies (id, posting_id, professional_id, message, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PostingID, c.ProfessionalID, c.Message, c.Status, c.CreatedAt)
	if err != nil {
		// The partial unique index on live candidacies backs up the count
		// check when two applications from the same professional race.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pgUniqueViolation {
			return nil, errors.NewDuplicateCandidacyError(postingID, professionalID)
		}
		return nil, errors.NewStorageError("insert candidacy", err)
	}

	if p.Status == models.StatusOpen {
		_, err = tx.ExecContext(ctx,
			`UPDATE postings SET status = $2 WHERE id = $1 AND status = $3`,
			postingID, models.StatusInSelection, models.StatusOpen)
		if err != nil {
			return nil, errors.NewStorageError("mark posting in selection", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStorageError("commit apply", err)
	}
	return c, nil
}

// Select chooses one candidacy, rejects every other live one on the posting,
// and moves the posting to AWAITING_CLINIC_CONFIRMATION with a fresh token
// and deadline. All mutations commit together; this is the only place the
// one-chosen-candidate rule is enforced.
func (s *Service) Select(ctx context.Context, postingID, candidacyID, actingOwnerID string) error {
	chosenProfessionalID, err := s.selectCandidate(ctx, postingID, candidacyID, actingOwnerID)
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("select", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	metrics.OperationsCompleted.WithLabelValues("select").Inc()
	s.logger.Info("candidate selected", map[string]interface{}{
		"postingId":      postingID,
		"candidacyId":    candidacyID,
		"professionalId": chosenProfessionalID,
	})

	if s.notifier != nil {
		s.notifier.Notify(ctx, chosenProfessionalID,
			"You were selected for an urgent substitution. Awaiting final confirmation.",
			map[string]interface{}{
				"event":     notify.EventCandidateSelected,
				"postingId": postingID,
			})
	}
	return nil
}

func (s *Service) selectCandidate(ctx context.Context, postingID, candidacyID, actingOwnerID string) (string, error) {
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.NewStorageError("begin select", err)
	}
	defer tx.Rollback()

	var ownerID string
	var status models.PostingStatus
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, status FROM postings WHERE id = $1 FOR UPDATE`,
		postingID).Scan(&ownerID, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", errors.NewNotFoundError("posting", postingID)
		}
		return "", errors.NewStorageError("lock posting", err)
	}

	if ownerID != actingOwnerID {
		return "", errors.NewForbiddenError("only the posting owner may select a candidate")
	}
	if err := posting.GuardTransition(status, models.StatusAwaitingConfirm); err != nil {
		return "", err
	}

	var chosenProfessionalID, candidacyStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT professional_id, status FROM candidacies WHERE id = $1 AND posting_id = $2`,
		candidacyID, postingID).Scan(&chosenProfessionalID, &candidacyStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", errors.NewNotFoundError("candidacy", candidacyID)
		}
		return "", errors.NewStorageError("load candidacy", err)
	}
	if candidacyStatus != models.CandidacyPending {
		return "", errors.NewInvalidStateError(candidacyStatus, models.CandidacyChosen)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE candidacies SET status = $2 WHERE id = $1`,
		candidacyID, models.CandidacyChosen)
	if err != nil {
		return "", errors.NewStorageError("mark candidacy chosen", err)
	}

	// Sweeps up any stale CHOSEN row from a previous selection round too,
	// keeping the one-chosen invariant across reopens.
	_, err = tx.ExecContext(ctx,
		`UPDATE candidacies SET status = $3
		 WHERE posting_id = $1 AND id <> $2 AND status IN ('PENDING', 'CHOSEN')`,
		postingID, candidacyID, models.CandidacyRejected)
	if err != nil {
		return "", errors.NewStorageError("reject other candidacies", err)
	}

	token := uuid.New().String()
	deadline := now.Add(s.config.ConfirmationTTL)
	res, err := tx.ExecContext(ctx,
		`UPDATE postings
		 SET status = $2, confirmation_token = $3, confirmation_deadline = $4, confirmation_outcome = $5
		 WHERE id = $1 AND status = $6`,
		postingID, models.StatusAwaitingConfirm, token, deadline, models.ConfirmationPending, status)
	if err != nil {
		return "", errors.NewStorageError("transition posting", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", errors.NewInvalidStateError(string(status), string(models.StatusAwaitingConfirm))
	}

	if err := tx.Commit(); err != nil {
		return "", errors.NewStorageError("commit select", err)
	}

	s.tokens.Save(ctx, postingID, token, s.config.ConfirmationTTL)
	return chosenProfessionalID, nil
}

// ListForPosting returns every candidacy on the posting, rejected ones
// included, oldest first. Owners see the full history.
func (s *Service) ListForPosting(ctx context.Context, postingID string) ([]*models.Candidacy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, posting_id, professional_id, message, status, created_at
		 FROM candidacies WHERE posting_id = $1 ORDER BY created_at ASC`,
		postingID)
	if err != nil {
		return nil, errors.NewStorageError("list candidacies", err)
	}
	defer rows.Close()

	var candidacies []*models.Candidacy
	for rows.Next() {
		var c models.Candidacy
		err := rows.Scan(&c.ID, &c.PostingID, &c.ProfessionalID, &c.Message, &c.Status, &c.CreatedAt)
		if err != nil {
			return nil, errors.NewStorageError("scan candidacy", err)
		}
		candidacies = append(candidacies, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list candidacies", err)
	}
	return candidacies, nil
}

// CanStillApply reports whether the professional has no live candidacy on
// the posting. Rejected rows stay in the ledger but do not block.
func (s *Service) CanStillApply(ctx context.Context, postingID, professionalID string) (bool, error) {
	var blocking int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidacies
		 WHERE posting_id = $1 AND professional_id = $2 AND status <> 'REJECTED'`,
		postingID, professionalID).Scan(&blocking)
	if err != nil {
		return false, errors.NewStorageError("check candidacy", err)
	}
	return blocking == 0, nil
}

func lockPostingForApply(ctx context.Context, tx *sql.Tx, postingID string) (*models.SubstitutionPosting, error) {
	var p models.SubstitutionPosting
	err := tx.QueryRowContext(ctx,
		`SELECT id, status, expires_at, required_specialty, minimum_years_licensed
		 FROM postings WHERE id = $1 FOR UPDATE`,
		postingID).Scan(&p.ID, &p.Status, &p.ExpiresAt, &p.RequiredSpecialty, &p.MinimumYearsLicensed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("posting", postingID)
		}
		return nil, errors.NewStorageError("lock posting", err)
	}
	return &p, nil
}

func loadProfessional(ctx context.Context, tx *sql.Tx, professionalID string) (*models.Professional, error) {
	var prof models.Professional
	err := tx.QueryRowContext(ctx,
		`SELECT id, primary_specialty, years_licensed, suspended
		 FROM professionals WHERE id = $1`,
		professionalID).Scan(&prof.ID, &prof.PrimarySpecialty, &prof.YearsLicensed, &prof.Suspended)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("professional", professionalID)
		}
		return nil, errors.NewStorageError("load professional", err)
	}
	return &prof, nil
}
