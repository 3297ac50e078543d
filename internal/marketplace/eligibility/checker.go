// Package eligibility evaluates whether a professional may apply to a
// posting. Pure checks with no side effects; the ledger re-evaluates at
// application time instead of caching, since professional state can change
// between page load and submission.
package eligibility

import (
	"fmt"

	"substitution-marketplace/internal/models"
)

// Result of an eligibility check. Reason is populated whenever Eligible is
// false.
type Result struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// CanApply runs the checks in order; the first failing check wins.
func CanApply(p *models.Professional, posting *models.SubstitutionPosting) Result {
	if p.Suspended {
		return Result{Reason: "suspended"}
	}

	if p.YearsLicensed < posting.MinimumYearsLicensed {
		return Result{Reason: fmt.Sprintf("requires at least %d years licensed", posting.MinimumYearsLicensed)}
	}

	if posting.RequiredSpecialty != "" && posting.RequiredSpecialty != p.PrimarySpecialty {
		return Result{Reason: fmt.Sprintf("requires specialty %s", posting.RequiredSpecialty)}
	}

	return Result{Eligible: true}
}
