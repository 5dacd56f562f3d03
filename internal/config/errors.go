package config

import "errors"

// Configuration validation errors returned by Config.Validate.
// Package-level sentinels so callers can match with errors.Is while still
// getting a readable message.
var (
	// ErrInvalidTimeout is returned when the socket timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid socket timeout: must be positive")

	// ErrInvalidTries is returned when the fetch try count is below one.
	ErrInvalidTries = errors.New("invalid tries: must be at least 1")

	// ErrInvalidRetryWait is returned when the retry backoff is negative.
	ErrInvalidRetryWait = errors.New("invalid retry wait: must be non-negative")

	// ErrInvalidPause is returned when the inter-request pause is negative.
	ErrInvalidPause = errors.New("invalid pause: must be non-negative")
)
