package apperr

import "errors"

var (
	// ErrInvalid is returned when input fails domain validation.
	ErrInvalid = errors.New("invalid input")
	// ErrNotFound indicates that the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a state conflict, e.g. a busy driver or a stale status.
	ErrConflict = errors.New("conflict")
	// ErrTerminal is returned for any transition attempt on a delivered or cancelled order.
	ErrTerminal = errors.New("order is in a terminal status")
	// ErrNoDriver is returned when a pickup transition has no driver chosen.
	ErrNoDriver = errors.New("no driver chosen")
	// ErrNoLoginIdentity means the driver record has no linked app account.
	ErrNoLoginIdentity = errors.New("driver has no linked app account")
	// ErrIntegrity marks data integrity gaps that must block the operator.
	ErrIntegrity = errors.New("data integrity gap")
)
