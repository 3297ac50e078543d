package models

import "time"

// Owning party types.
const (
	OwnerProfessional = "PROFESSIONAL"
	OwnerClinic       = "CLINIC"
)

// Scheduling modes. Exactly one set of date fields must be populated,
// consistent with the mode.
const (
	ScheduleImmediate    = "IMMEDIATE"
	ScheduleSpecificDate = "SPECIFIC_DATE"
	ScheduleRange        = "RANGE"
)

// Compensation modes.
const (
	CompensationDailyRate  = "DAILY_RATE"
	CompensationPercentage = "PERCENTAGE"
)

// PostingStatus is the posting state machine status.
type PostingStatus string

const (
	StatusDraft            PostingStatus = "DRAFT"
	StatusOpen             PostingStatus = "OPEN"
	StatusInSelection      PostingStatus = "IN_SELECTION"
	StatusAwaitingConfirm  PostingStatus = "AWAITING_CLINIC_CONFIRMATION"
	StatusConfirmed        PostingStatus = "CONFIRMED"
	StatusCompleted        PostingStatus = "COMPLETED"
	StatusCancelled        PostingStatus = "CANCELLED"
	StatusRejectedByClinic PostingStatus = "REJECTED_BY_CLINIC"
)

// IsTerminal reports whether no further transition is possible from s,
// except the owner-initiated reopen out of REJECTED_BY_CLINIC.
func (s PostingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejectedByClinic:
		return true
	default:
		return false
	}
}

// AcceptsCandidacies reports whether a posting in this status can take new
// applications, before any expiry check.
func (s PostingStatus) AcceptsCandidacies() bool {
	return s == StatusOpen || s == StatusInSelection
}

// SubstitutionPosting represents one urgent coverage need. Never hard
// deleted; cancellation is a terminal status.
type SubstitutionPosting struct {
	ID        string `json:"id" db:"id"`
	OwnerType string `json:"ownerType" db:"owner_type"`
	OwnerID   string `json:"ownerId" db:"owner_id"`

	RequiredSpecialty    string `json:"requiredSpecialty,omitempty" db:"required_specialty"`
	MinimumYearsLicensed int    `json:"minimumYearsLicensed" db:"minimum_years_licensed"`

	SchedulingMode string     `json:"schedulingMode" db:"scheduling_mode"`
	SpecificDate   *time.Time `json:"specificDate,omitempty" db:"specific_date"`
	RangeStart     *time.Time `json:"rangeStart,omitempty" db:"range_start"`
	RangeEnd       *time.Time `json:"rangeEnd,omitempty" db:"range_end"`

	CompensationMode string  `json:"compensationMode" db:"compensation_mode"`
	DailyRate        float64 `json:"dailyRate,omitempty" db:"daily_rate"`
	Percentage       float64 `json:"percentage,omitempty" db:"percentage"`

	Status    PostingStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time     `json:"expiresAt" db:"expires_at"`
	Views     int64         `json:"views" db:"views"`

	// Confirmation handshake, populated at selection time.
	ConfirmationToken    string     `json:"-" db:"confirmation_token"`
	ConfirmationDeadline *time.Time `json:"confirmationDeadline,omitempty" db:"confirmation_deadline"`
	ConfirmationOutcome  string     `json:"confirmationOutcome,omitempty" db:"confirmation_outcome"`
}

// IsExpired reports whether the posting's open window has passed at the
// given instant.
func (p *SubstitutionPosting) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
