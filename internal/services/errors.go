// Package services implements the ask pipeline: the request handler and the
// components it drives (usage ledger, quota limiter, burst guard, error
// classifier and conversation builder).
//
// This file centralizes the service-level error values. Handle returns them
// (possibly wrapped) so callers can label metrics and pick a log level; the
// user has already been answered by the time they surface.
package services

import "errors"

var (
	// ErrEmptyQuery is returned when a trigger carried no query text. The
	// requester received the private help text.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrQuotaExceeded is returned when a sliding-window limit or the burst
	// guard blocked the request before the provider was called.
	ErrQuotaExceeded = errors.New("rate limit exceeded")

	// ErrNoLedger is returned by ledger writes when no database is configured
	// or the pre-call insert produced no id.
	ErrNoLedger = errors.New("usage ledger unavailable")

	// ErrProviderFailed wraps any failure of the provider call or of the
	// processing of its response.
	ErrProviderFailed = errors.New("provider call failed")
)
