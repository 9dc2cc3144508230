package profiles

import "errors"

var (
	// ErrNotFound indicates no profile matched the lookup.
	ErrNotFound = errors.New("profile not found")
	// ErrInvalidInput indicates a missing owner or customer reference.
	ErrInvalidInput = errors.New("invalid input")
)
