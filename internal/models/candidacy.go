package models

import "time"

// CandidacyStatus values.
const (
	CandidacyPending  = "PENDING"
	CandidacyChosen   = "CHOSEN"
	CandidacyRejected = "REJECTED"
	CandidacyExpired  = "EXPIRED"
)

// Candidacy represents one professional's application to one posting. At
// most one candidacy per professional per posting; never deleted.
type Candidacy struct {
	ID             string    `json:"id" db:"id"`
	PostingID      string    `json:"postingId" db:"posting_id"`
	ProfessionalID string    `json:"professionalId" db:"professional_id"`
	Message        string    `json:"message,omitempty" db:"message"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// BlocksReapply reports whether this candidacy still counts against the
// one-candidacy-per-professional rule. Rejected rows stay visible to the
// owner but do not block a new application.
func (c *Candidacy) BlocksReapply() bool {
	return c.Status != CandidacyRejected
}
