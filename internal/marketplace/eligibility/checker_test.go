package eligibility

import (
	"testing"

	"substitution-marketplace/internal/models"

	"github.com/stretchr/testify/assert"
)

func createProfessional() *models.Professional {
	return &models.Professional{
		ID:               "prof-001",
		PrimarySpecialty: "orthodontics",
		YearsLicensed:    5,
	}
}

func createPosting() *models.SubstitutionPosting {
	return &models.SubstitutionPosting{
		ID:                   "posting-001",
		RequiredSpecialty:    "orthodontics",
		MinimumYearsLicensed: 3,
	}
}

func TestCanApply_Eligible(t *testing.T) {
	r := CanApply(createProfessional(), createPosting())

	assert.True(t, r.Eligible)
	assert.Empty(t, r.Reason)
}

func TestCanApply_Suspended(t *testing.T) {
	p := createProfessional()
	p.Suspended = true

	r := CanApply(p, createPosting())

	assert.False(t, r.Eligible)
	assert.Equal(t, "suspended", r.Reason)
}

func TestCanApply_SuspensionCheckedFirst(t *testing.T) {
	// Suspended professional who also misses the experience bar; the
	// suspension reason wins.
	p := createProfessional()
	p.Suspended = true
	p.YearsLicensed = 0

	r := CanApply(p, createPosting())

	assert.Equal(t, "suspended", r.Reason)
}

func TestCanApply_ExperienceBoundary(t *testing.T) {
	p := createProfessional()
	posting := createPosting()
	posting.MinimumYearsLicensed = 5

	// Exactly the minimum is eligible.
	p.YearsLicensed = 5
	assert.True(t, CanApply(p, posting).Eligible)

	// One year less is not.
	p.YearsLicensed = 4
	r := CanApply(p, posting)
	assert.False(t, r.Eligible)
	assert.Contains(t, r.Reason, "5 years")
}

func TestCanApply_SpecialtyMismatch(t *testing.T) {
	p := createProfessional()
	p.PrimarySpecialty = "endodontics"

	r := CanApply(p, createPosting())

	assert.False(t, r.Eligible)
	assert.Contains(t, r.Reason, "orthodontics")
}

func TestCanApply_NoRequiredSpecialty(t *testing.T) {
	p := createProfessional()
	p.PrimarySpecialty = "endodontics"
	posting := createPosting()
	posting.RequiredSpecialty = ""

	assert.True(t, CanApply(p, posting).Eligible)
}
