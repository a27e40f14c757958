// Package handlers defines HTTP-layer error codes used across all API
// endpoints. Codes are lowercase snake_case; generic codes mirror common
// HTTP status semantics, domain-specific codes cover failures a status
// alone cannot convey. Handlers pick the most specific code and pass it to
// fail() along with the status and message.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeListFailed       = "list_failed"
	ErrCodeUpdateFailed     = "update_failed"
	ErrCodeClearFailed      = "clear_failed"
	ErrCodeStreamFailed     = "stream_failed"
	ErrCodeUpgradeFailed    = "upgrade_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
