package server

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"substitution-marketplace/internal/common/clock"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/identity"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/marketplace/availability"
	"substitution-marketplace/internal/marketplace/candidacy"
	"substitution-marketplace/internal/marketplace/confirmation"
	"substitution-marketplace/internal/marketplace/posting"
	"substitution-marketplace/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, db *sql.DB, actor identity.Actor) *http.ServeMux {
	log := logger.NewTestLogger(t)
	clk := clock.NewFixed(testNow)

	availabilitySvc := availability.NewService(
		availability.Config{DailyToggleLimit: 2, MinJustificationLen: 10},
		db, nil, clk, log)
	postingSvc := posting.NewService(
		posting.Config{ImmediateTTL: 6 * time.Hour},
		db, nil, nil, nil, clk, log)
	candidacySvc := candidacy.NewService(
		candidacy.Config{ConfirmationTTL: 24 * time.Hour},
		db, nil, nil, clk, log)
	confirmationSvc := confirmation.NewService(db, nil, nil, clk, log)

	srv := New(availabilitySvc, postingSvc, candidacySvc, confirmationSvc,
		identity.Static{Actor: actor}, log)

	mux := http.NewServeMux()
	srv.Routes(mux)
	return mux
}

func professionalActor() identity.Actor {
	return identity.Actor{ID: "prof-001", Role: identity.RoleProfessional}
}

func clinicActor() identity.Actor {
	return identity.Actor{ID: "clinic-001", Role: identity.RoleClinic}
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer session-token")
	return req
}

func TestMissingTokenIsForbidden(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mux := newTestServer(t, db, professionalActor())

	req := httptest.NewRequest(http.MethodGet, "/v1/availability", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")
}

func TestSetOffline_ValidationErrorMapsTo400(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mux := newTestServer(t, db, professionalActor())

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/availability/offline",
		strings.NewReader(`{"justification":"short"}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestSetOnline_ClinicRoleForbidden(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mux := newTestServer(t, db, clinicActor())

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/availability/online", nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreatePosting_OwnershipComesFromSession(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectExec(`INSERT INTO postings`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mux := newTestServer(t, db, clinicActor())

	body := `{
		"ownerId": "someone-else",
		"ownerType": "PROFESSIONAL",
		"schedulingMode": "IMMEDIATE",
		"compensationMode": "DAILY_RATE",
		"dailyRate": 800,
		"minimumYearsLicensed": 2
	}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/postings", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ownerId":"clinic-001"`)
	assert.Contains(t, rec.Body.String(), `"ownerType":"CLINIC"`)
}

func TestApply_DuplicateMapsTo409(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT id, status, expires_at`).
		WithArgs("posting-001").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "expires_at", "required_specialty", "minimum_years_licensed",
		}).AddRow("posting-001", models.StatusOpen, testNow.Add(time.Hour), "", 0))
	dbMock.ExpectQuery(`SELECT id, primary_specialty, years_licensed, suspended`).
		WithArgs("prof-001").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "primary_specialty", "years_licensed", "suspended",
		}).AddRow("prof-001", "orthodontics", 5, false))
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidacies`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	dbMock.ExpectRollback()

	mux := newTestServer(t, db, professionalActor())

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/postings/posting-001/candidacies",
		strings.NewReader(`{"message":"hi"}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "DUPLICATE_CANDIDACY")
}

func TestConfirm_UnknownOutcomeMapsTo400(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mux := newTestServer(t, db, clinicActor())

	req := httptest.NewRequest(http.MethodPost, "/v1/postings/posting-001/confirmation",
		strings.NewReader(`{"token":"tok-123","outcome":"MAYBE"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor_CoversTaxonomy(t *testing.T) {
	tests := []struct {
		code   errors.ErrorCode
		status int
	}{
		{errors.ErrCodeValidation, http.StatusBadRequest},
		{errors.ErrCodeForbidden, http.StatusForbidden},
		{errors.ErrCodeInvalidToken, http.StatusForbidden},
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodeNotEligible, http.StatusUnprocessableEntity},
		{errors.ErrCodeDuplicateCandidacy, http.StatusConflict},
		{errors.ErrCodePostingClosed, http.StatusConflict},
		{errors.ErrCodeInvalidState, http.StatusConflict},
		{errors.ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{errors.ErrCodeStorageFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.code), string(tt.code))
	}
}
