package invoice

import "errors"

// Error kinds shared by every layer that handles invoices. Callers classify
// failures with errors.Is; the concrete error wraps one of these.
var (
	// ErrValidation is returned when a file is rejected locally (too large,
	// wrong type) before anything is sent.
	ErrValidation = errors.New("validation error")

	// ErrAuth is returned for invalid credentials or a missing/expired session.
	ErrAuth = errors.New("authentication error")

	// ErrNotFound is returned when an id is unknown or not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrNetwork is returned when the transport fails.
	ErrNetwork = errors.New("network error")

	// ErrServer is returned when the remote side rejects a request without a
	// finer classification.
	ErrServer = errors.New("server error")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTotalMismatch     = errors.New("total does not equal amount plus tax")
	ErrOwnerReassigned   = errors.New("owner already assigned")
)
