// Package confirmation implements the two-party handshake that finalizes a
// selected substitution: token-validated accept/reject with a fixed
// deadline, and the sweep that times out overdue handshakes and expires
// candidacies on postings that closed without a selection.
package confirmation

import (
	"context"
	"database/sql"

	"substitution-marketplace/internal/common/clock"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/common/metrics"
	"substitution-marketplace/internal/common/notify"
	"substitution-marketplace/internal/marketplace/posting"
	"substitution-marketplace/internal/models"
)

// Service is the confirmation gate.
type Service struct {
	db       *sql.DB
	tokens   *TokenStore
	notifier notify.Notifier
	clock    clock.Clock
	logger   logger.Logger
}

func NewService(db *sql.DB, tokens *TokenStore, notifier notify.Notifier, clk clock.Clock, log logger.Logger) *Service {
	return &Service{
		db:       db,
		tokens:   tokens,
		notifier: notifier,
		clock:    clk,
		logger:   log.WithFields(map[string]interface{}{"component": "confirmation"}),
	}
}

// Confirm resolves the handshake. ACCEPTED drives the posting to CONFIRMED,
// REJECTED to REJECTED_BY_CLINIC. The token must match the one issued at
// selection time; a handshake past its deadline is timed out on the spot and
// the call reports the posting closed.
func (s *Service) Confirm(ctx context.Context, postingID, token, outcome string) error {
	err := s.confirm(ctx, postingID, token, outcome)
	if err != nil {
		if errors.IsBusiness(err) {
			metrics.OperationsRejected.WithLabelValues("confirm", string(errors.CodeOf(err))).Inc()
		}
		return err
	}

	metrics.OperationsCompleted.WithLabelValues("confirm").Inc()
	s.tokens.Drop(ctx, postingID)

	s.logger.Info("confirmation resolved", map[string]interface{}{
		"postingId": postingID,
		"outcome":   outcome,
	})
	return nil
}

func (s *Service) confirm(ctx context.Context, postingID, token, outcome string) error {
	if outcome != models.ConfirmationAccepted && outcome != models.ConfirmationRejected {
		return errors.NewValidationError("outcome must be ACCEPTED or REJECTED")
	}

	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin confirm", err)
	}
	defer tx.Rollback()

	var status models.PostingStatus
	var storedToken sql.NullString
	var deadline sql.NullTime
	var ownerID string
	err = tx.QueryRowContext(ctx,
		`SELECT status, confirmation_token, confirmation_deadline, owner_id
		 FROM postings WHERE id = $1 FOR UPDATE`,
		postingID).Scan(&status, &storedToken, &deadline, &ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.NewNotFoundError("posting", postingID)
		}
		return errors.NewStorageError("lock posting", err)
	}

	if status != models.StatusAwaitingConfirm {
		return errors.NewInvalidStateError(string(status), string(models.StatusConfirmed))
	}

	if deadline.Valid && !deadline.Time.After(now) {
		if err := timeoutInTx(ctx, tx, postingID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errors.NewStorageError("commit timeout", err)
		}
		metrics.ConfirmationsTimedOut.Inc()
		return errors.NewPostingClosedError(postingID, "confirmation deadline has passed")
	}

	// The cache answers first; on a miss the stored token decides.
	if matched, known := s.tokens.Check(ctx, postingID, token); known && !matched {
		return errors.NewInvalidTokenError(postingID)
	}
	if !storedToken.Valid || storedToken.String != token {
		return errors.NewInvalidTokenError(postingID)
	}

	target := models.StatusConfirmed
	if outcome == models.ConfirmationRejected {
		target = models.StatusRejectedByClinic
	}
	if err := posting.GuardTransition(status, target); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE postings SET status = $2, confirmation_outcome = $3 WHERE id = $1`,
		postingID, target, outcome)
	if err != nil {
		return errors.NewStorageError("resolve confirmation", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit confirm", err)
	}

	s.announceOutcome(ctx, postingID, ownerID, outcome)
	return nil
}

// SweepOverdue times out every handshake past its deadline and expires
// pending candidacies on postings whose window closed with no selection.
// Safe to run on any schedule; each pass is idempotent.
func (s *Service) SweepOverdue(ctx context.Context) (timedOut, expired int, err error) {
	now := s.clock.Now()

	rows, err := s.db.QueryContext(ctx,
		`UPDATE postings
		 SET status = $1, confirmation_outcome = $2
		 WHERE status = $3 AND confirmation_deadline <= $4
		 RETURNING id`,
		models.StatusRejectedByClinic, models.ConfirmationTimedOut,
		models.StatusAwaitingConfirm, now)
	if err != nil {
		return 0, 0, errors.NewStorageError("sweep overdue confirmations", err)
	}

	var overdueIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, errors.NewStorageError("scan overdue posting", err)
		}
		overdueIDs = append(overdueIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, errors.NewStorageError("sweep overdue confirmations", err)
	}

	for _, id := range overdueIDs {
		metrics.ConfirmationsTimedOut.Inc()
		s.tokens.Drop(ctx, id)
		s.logger.Info("confirmation timed out", map[string]interface{}{"postingId": id})
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE candidacies SET status = $1
		 WHERE status = $2 AND posting_id IN (
		   SELECT id FROM postings
		   WHERE status IN ('OPEN', 'IN_SELECTION') AND expires_at <= $3
		 )`,
		models.CandidacyExpired, models.CandidacyPending, now)
	if err != nil {
		return len(overdueIDs), 0, errors.NewStorageError("expire stale candidacies", err)
	}
	n, _ := res.RowsAffected()

	if len(overdueIDs) > 0 || n > 0 {
		s.logger.Info("sweep completed", map[string]interface{}{
			"timedOut":           len(overdueIDs),
			"expiredCandidacies": n,
		})
	}
	return len(overdueIDs), int(n), nil
}

func timeoutInTx(ctx context.Context, tx *sql.Tx, postingID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE postings SET status = $2, confirmation_outcome = $3 WHERE id = $1`,
		postingID, models.StatusRejectedByClinic, models.ConfirmationTimedOut)
	if err != nil {
		return errors.NewStorageError("apply confirmation timeout", err)
	}
	return nil
}

// announceOutcome tells both the owner and the chosen professional how the
// handshake ended. Fire-and-forget.
func (s *Service) announceOutcome(ctx context.Context, postingID, ownerID, outcome string) {
	if s.notifier == nil {
		return
	}

	message := "The substitution was confirmed."
	if outcome == models.ConfirmationRejected {
		message = "The substitution was declined."
	}
	eventCtx := map[string]interface{}{
		"event":     notify.EventConfirmationOutcome,
		"postingId": postingID,
		"outcome":   outcome,
	}

	s.notifier.Notify(ctx, ownerID, message, eventCtx)

	var professionalID string
	err := s.db.QueryRowContext(ctx,
		`SELECT professional_id FROM candidacies WHERE posting_id = $1 AND status = 'CHOSEN'`,
		postingID).Scan(&professionalID)
	if err != nil {
		s.logger.Warn("chosen professional lookup failed", map[string]interface{}{
			"postingId": postingID,
			"error":     err.Error(),
		})
		return
	}
	s.notifier.Notify(ctx, professionalID, message, eventCtx)
}
