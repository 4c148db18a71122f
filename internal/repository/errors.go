package repository

import "errors"

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrQuotaExceeded is returned when a coordinator's available slot balance
// cannot cover the requested registrations.
var ErrQuotaExceeded = errors.New("slot quota exceeded")

// ErrConcurrencyConflict is returned when a commit loses the race for the
// last available slot and may be retried once by the caller.
var ErrConcurrencyConflict = errors.New("concurrent slot update conflict")
