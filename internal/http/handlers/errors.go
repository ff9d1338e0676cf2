// Package handlers implements the read-only ops HTTP API over the usage
// ledger and the quota limiter.
//
// Every error response carries an ErrorResponse with one of the codes below;
// clients branch on the code, the message is for humans.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeListFailed  = "list_failed"
	ErrCodeQuotaFailed = "quota_failed"
	ErrCodeUnavailable = "ledger_unavailable"
)
