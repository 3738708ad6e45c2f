package domain

import "errors"

var (
	// ErrNotFound is returned by KV stores for a missing key.
	ErrNotFound = errors.New("not found")

	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrQuotaExceeded is returned by a KV store that ran out of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
