package posting

import (
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/models"
)

// transitions is the full adjacency table of the posting state machine. Any
// move not listed here is rejected with INVALID_STATE, so an unexpected
// status string can never reach a mutation path.
var transitions = map[models.PostingStatus][]models.PostingStatus{
	models.StatusDraft: {
		models.StatusOpen,
		models.StatusCancelled,
	},
	models.StatusOpen: {
		models.StatusInSelection,
		models.StatusAwaitingConfirm,
		models.StatusCancelled,
	},
	models.StatusInSelection: {
		models.StatusAwaitingConfirm,
		models.StatusCancelled,
	},
	models.StatusAwaitingConfirm: {
		models.StatusConfirmed,
		models.StatusRejectedByClinic,
		models.StatusCancelled,
	},
	models.StatusConfirmed: {
		models.StatusCompleted,
	},
	// Owner-initiated reopen after a clinic rejection or timeout.
	models.StatusRejectedByClinic: {
		models.StatusOpen,
	},
}

// CanTransition reports whether the state machine allows moving a posting
// from one status to another.
func CanTransition(from, to models.PostingStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GuardTransition returns an INVALID_STATE error when the move is not in the
// adjacency table, nil otherwise.
func GuardTransition(from, to models.PostingStatus) error {
	if !CanTransition(from, to) {
		return errors.NewInvalidStateError(string(from), string(to))
	}
	return nil
}
