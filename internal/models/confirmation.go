package models

// Confirmation handshake outcomes. The handshake itself lives on the posting
// (token, deadline, outcome fields), created at selection time and resolved
// by an explicit confirmation or by deadline expiry.
const (
	ConfirmationPending  = "PENDING"
	ConfirmationAccepted = "ACCEPTED"
	ConfirmationRejected = "REJECTED"
	ConfirmationTimedOut = "TIMED_OUT"
)
