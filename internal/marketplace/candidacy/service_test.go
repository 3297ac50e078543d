package candidacy

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"substitution-marketplace/internal/common/clock"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, db *sql.DB) *Service {
	cfg := Config{ConfirmationTTL: 24 * time.Hour}
	return NewService(cfg, db, nil, nil, clock.NewFixed(testNow), logger.NewTestLogger(t))
}

func expectPostingLock(dbMock sqlmock.Sqlmock, postingID string, status models.PostingStatus, expiresAt time.Time) {
	dbMock.ExpectQuery(`SELECT id, status, expires_at, required_specialty, minimum_years_licensed`).
		WithArgs(postingID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "expires_at", "required_specialty", "minimum_years_licensed",
		}).AddRow(postingID, status, expiresAt, "orthodontics", 2))
}

func expectProfessionalLoad(dbMock sqlmock.Sqlmock, professionalID string, specialty string, years int, suspended bool) {
	dbMock.ExpectQuery(`SELECT id, primary_specialty, years_licensed, suspended`).
		WithArgs(professionalID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "primary_specialty", "years_licensed", "suspended",
		}).AddRow(professionalID, specialty, years, suspended))
}

// ==========================
// Apply
// ==========================

func TestApply_Success(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusOpen, testNow.Add(4*time.Hour))
	expectProfessionalLoad(dbMock, "prof-001", "orthodontics", 5, false)
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WithArgs("posting-001", "prof-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	dbMock.ExpectExec(`INSERT INTO candidacies`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(`UPDATE postings SET status`).
		WithArgs("posting-001", models.StatusInSelection, models.StatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	svc := newTestService(t, db)

	c, err := svc.Apply(context.Background(), "posting-001", "prof-001", "can start right away")

	require.NoError(t, err)
	assert.Equal(t, models.CandidacyPending, c.Status)
	assert.Equal(t, "posting-001", c.PostingID)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestApply_AlreadyInSelectionSkipsStatusUpdate(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusInSelection, testNow.Add(4*time.Hour))
	expectProfessionalLoad(dbMock, "prof-002", "orthodontics", 3, false)
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WithArgs("posting-001", "prof-002").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	dbMock.ExpectExec(`INSERT INTO candidacies`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-002", "")

	assert.NoError(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestApply_SuspendedProfessionalCreatesNoRow(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusOpen, testNow.Add(4*time.Hour))
	expectProfessionalLoad(dbMock, "prof-001", "orthodontics", 5, true)
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-001", "")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotEligible))
	assert.Contains(t, err.Error(), "suspended")
	// No INSERT was expected; an attempted one would fail the mock.
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestApply_ClosedPosting(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusAwaitingConfirm, testNow.Add(4*time.Hour))
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-001", "")

	assert.True(t, errors.IsCode(err, errors.ErrCodePostingClosed))
}

func TestApply_ExpiredPosting(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusOpen, testNow.Add(-time.Minute))
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-001", "")

	assert.True(t, errors.IsCode(err, errors.ErrCodePostingClosed))
}

func TestApply_DuplicateBlocked(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusInSelection, testNow.Add(4*time.Hour))
	expectProfessionalLoad(dbMock, "prof-001", "orthodontics", 5, false)
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WithArgs("posting-001", "prof-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-001", "")

	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateCandidacy))
}

func TestApply_RacingDuplicateHitsUniqueIndex(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The count check passed for both racers; the second insert trips the
	// partial unique index and must surface as a duplicate, not a storage
	// failure.
	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusInSelection, testNow.Add(4*time.Hour))
	expectProfessionalLoad(dbMock, "prof-001", "orthodontics", 5, false)
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WithArgs("posting-001", "prof-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	dbMock.ExpectExec(`INSERT INTO candidacies`).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-001", "")

	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateCandidacy))
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestApply_RejectedCandidacyDoesNotBlockReapply(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The blocking count excludes REJECTED rows, so it comes back zero.
	dbMock.ExpectBegin()
	expectPostingLock(dbMock, "posting-001", models.StatusInSelection, testNow.Add(4*time.Hour))
	expectProfessionalLoad(dbMock, "prof-001", "orthodontics", 5, false)
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WithArgs("posting-001", "prof-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	dbMock.ExpectExec(`INSERT INTO candidacies`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	svc := newTestService(t, db)

	_, err = svc.Apply(context.Background(), "posting-001", "prof-001", "second attempt")

	assert.NoError(t, err)
}

// ==========================
// Select
// ==========================

func TestSelect_ChoosesOneRejectsRest(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT owner_id, status FROM postings`).
		WithArgs("posting-001").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}).
			AddRow("clinic-001", models.StatusInSelection))
	dbMock.ExpectQuery(`SELECT professional_id, status FROM candidacies`).
		WithArgs("cand-p1", "posting-001").
		WillReturnRows(sqlmock.NewRows([]string{"professional_id", "status"}).
			AddRow("prof-001", models.CandidacyPending))
	dbMock.ExpectExec(`UPDATE candidacies SET status`).
		WithArgs("cand-p1", models.CandidacyChosen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(`UPDATE candidacies SET status`).
		WithArgs("posting-001", "cand-p1", models.CandidacyRejected).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(`UPDATE postings`).
		WithArgs("posting-001", models.StatusAwaitingConfirm, sqlmock.AnyArg(),
			testNow.Add(24*time.Hour), models.ConfirmationPending, models.StatusInSelection).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	svc := newTestService(t, db)

	err = svc.Select(context.Background(), "posting-001", "cand-p1", "clinic-001")

	assert.NoError(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestSelect_NonOwnerForbidden(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT owner_id, status FROM postings`).
		WithArgs("posting-001").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}).
			AddRow("clinic-001", models.StatusInSelection))
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	err = svc.Select(context.Background(), "posting-001", "cand-p1", "someone-else")

	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))
}

func TestSelect_InvalidFromAwaitingConfirmation(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT owner_id, status FROM postings`).
		WithArgs("posting-001").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}).
			AddRow("clinic-001", models.StatusAwaitingConfirm))
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	err = svc.Select(context.Background(), "posting-001", "cand-p1", "clinic-001")

	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestSelect_CandidacyFromAnotherPosting(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT owner_id, status FROM postings`).
		WithArgs("posting-001").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "status"}).
			AddRow("clinic-001", models.StatusInSelection))
	dbMock.ExpectQuery(`SELECT professional_id, status FROM candidacies`).
		WithArgs("cand-foreign", "posting-001").
		WillReturnError(sql.ErrNoRows)
	dbMock.ExpectRollback()

	svc := newTestService(t, db)

	err = svc.Select(context.Background(), "posting-001", "cand-foreign", "clinic-001")

	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

// ==========================
// Listing
// ==========================

func TestListForPosting_IncludesRejected(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectQuery(`SELECT id, posting_id, professional_id, message, status, created_at`).
		WithArgs("posting-001").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "posting_id", "professional_id", "message", "status", "created_at",
		}).
			AddRow("cand-p1", "posting-001", "prof-001", "", models.CandidacyChosen, testNow).
			AddRow("cand-p2", "posting-001", "prof-002", "", models.CandidacyRejected, testNow))

	svc := newTestService(t, db)

	candidacies, err := svc.ListForPosting(context.Background(), "posting-001")

	require.NoError(t, err)
	require.Len(t, candidacies, 2)
	assert.Equal(t, models.CandidacyRejected, candidacies[1].Status)
}

func TestCanStillApply(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WithArgs("posting-001", "prof-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	svc := newTestService(t, db)

	ok, err := svc.CanStillApply(context.Background(), "posting-001", "prof-001")

	require.NoError(t, err)
	assert.False(t, ok)
}
