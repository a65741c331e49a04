package response

import "net/http"

const (
	ErrSystem         = "SYS_INTERNAL_ERROR"
	ErrBadRequest     = "SYS_BAD_REQUEST"
	ErrServiceUnavail = "SYS_SERVICE_UNAVAILABLE"
	ErrGatewayTimeout = "SYS_GATEWAY_TIMEOUT"

	ErrValidation    = "VAL_INVALID_INPUT"
	ErrInvalidFormat = "VAL_INVALID_FORMAT"
	ErrInvalidCursor = "VAL_INVALID_CURSOR"

	ErrMissingToken = "AUTH_MISSING_TOKEN"
	ErrInvalidToken = "AUTH_INVALID_TOKEN"
	ErrForbidden    = "AUTH_FORBIDDEN"

	// Mapped from storage errors by database.MapError.
	ErrNotFound        = "RES_NOT_FOUND"
	ErrAlreadyExists   = "RES_ALREADY_EXISTS"
	ErrConflict        = "RES_CONFLICT"
	ErrVersionMismatch = "RES_VERSION_MISMATCH"
	ErrInProgress      = "RES_REQUEST_IN_PROGRESS"

	ErrRuleViolation = "BIZ_RULE_VIOLATION"
	ErrRateLimit     = "BIZ_RATE_LIMIT_EXCEEDED"
)

func MapStatus(code string) int {
	switch code {
	case ErrBadRequest, ErrValidation, ErrInvalidFormat, ErrInvalidCursor:
		return http.StatusBadRequest
	case ErrMissingToken, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists, ErrConflict, ErrVersionMismatch, ErrInProgress:
		return http.StatusConflict
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrRuleViolation:
		return http.StatusUnprocessableEntity
	case ErrServiceUnavail, ErrGatewayTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
