package billing

import "errors"

var (
	ErrNotConfigured    = errors.New("payment provider not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrUnsupportedPayload is a correctly signed event whose body cannot be decoded.
	ErrUnsupportedPayload = errors.New("unsupported webhook payload")
)
