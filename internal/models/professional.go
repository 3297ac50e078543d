package models

import "time"

// Availability status of a professional for urgent-match alerts.
const (
	AvailabilityOnline  = "ONLINE"
	AvailabilityOffline = "OFFLINE"
)

// Professional represents a credentialed individual eligible to work
// substitutions. Never deleted; suspension is a soft flag.
type Professional struct {
	ID               string `json:"id" db:"id"`
	FullName         string `json:"fullName" db:"full_name"`
	Email            string `json:"email" db:"email"`
	Phone            string `json:"phone,omitempty" db:"phone"`
	PrimarySpecialty string `json:"primarySpecialty" db:"primary_specialty"`
	YearsLicensed    int    `json:"yearsLicensed" db:"years_licensed"`
	Suspended        bool   `json:"suspended" db:"suspended"`

	Availability         string     `json:"availability" db:"availability"`
	OfflineJustification string     `json:"offlineJustification,omitempty" db:"offline_justification"`
	DailyActivations     int        `json:"dailyActivations" db:"daily_activations"`
	DailyDeactivations   int        `json:"dailyDeactivations" db:"daily_deactivations"`
	LastActivationAt     *time.Time `json:"lastActivationAt,omitempty" db:"last_activation_at"`
	LastDeactivationAt   *time.Time `json:"lastDeactivationAt,omitempty" db:"last_deactivation_at"`

	AttendanceRate         float64   `json:"attendanceRate" db:"attendance_rate"`
	CompletedSubstitutions int       `json:"completedSubstitutions" db:"completed_substitutions"`
	RatingAverage          float64   `json:"ratingAverage" db:"rating_average"`
	RatingCount            int       `json:"ratingCount" db:"rating_count"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at"`
}

// IsOnline reports whether the professional currently receives urgent alerts.
func (p *Professional) IsOnline() bool {
	return p.Availability == AvailabilityOnline
}
