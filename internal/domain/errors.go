package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnavailable        = errors.New("no copies available")
	ErrAlreadyReturned    = errors.New("transaction already returned")
	ErrConflict           = errors.New("concurrent modification, retries exhausted")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvariantViolation = errors.New("invariant violation")
)
