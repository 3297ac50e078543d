// Package countdown derives human-facing remaining-time buckets from a
// deadline. Pure functions of deadline minus now; nothing here mutates an
// entity. Callers decide whether an expired-but-not-yet-transitioned posting
// should be surfaced as closed.
package countdown

import (
	"fmt"
	"time"
)

// Remaining is the bucketed time left until a deadline.
type Remaining struct {
	Expired bool   `json:"expired"`
	Days    int    `json:"days,omitempty"`
	Hours   int    `json:"hours,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
	Label   string `json:"label,omitempty"`
}

// Evaluate buckets the time between now and deadline. When the deadline has
// passed, only Expired is set.
func Evaluate(deadline, now time.Time) Remaining {
	if !deadline.After(now) {
		return Remaining{Expired: true}
	}

	left := deadline.Sub(now)
	days := int(left.Hours()) / 24
	hours := int(left.Hours()) % 24
	minutes := int(left.Minutes()) % 60

	var label string
	switch {
	case days > 0:
		label = fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		label = fmt.Sprintf("%dh %dmin", hours, minutes)
	default:
		label = fmt.Sprintf("%dmin", minutes)
	}

	return Remaining{
		Days:    days,
		Hours:   hours,
		Minutes: minutes,
		Label:   label,
	}
}
