package exam

import "errors"

var (
	// ErrBusy is returned when an operation arrives while an examiner or coach call is in flight.
	ErrBusy = errors.New("exam: a remote call is already in flight")
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("exam: operation not allowed in current state")
	// ErrEmptyAnswer is returned for blank team answers.
	ErrEmptyAnswer = errors.New("exam: answer cannot be empty")
	// ErrNotFound is returned by the registry for unknown session IDs.
	ErrNotFound = errors.New("exam: session not found")

	errNoQuestion = errors.New("examiner returned no next question")
)
