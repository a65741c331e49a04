package api

import (
	"errors"
	"net/http"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/database"
	"github.com/godamri/helix-activity/http/response"
	"github.com/godamri/helix-activity/order"
)

// writeError maps domain and storage errors onto the response envelope. Storage
// failures are rendered as problem details.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidInput), errors.Is(err, order.ErrInvalidStatus):
		response.Fail(w, r, response.ErrValidation, err.Error())
	case errors.Is(err, order.ErrNotFound):
		response.Fail(w, r, response.ErrNotFound, "order not found")
	case errors.Is(err, order.ErrForbidden):
		response.Fail(w, r, response.ErrForbidden, "not permitted to change this order")
	case errors.Is(err, order.ErrInvalidTransition):
		response.Fail(w, r, response.ErrRuleViolation, err.Error())
	case errors.Is(err, order.ErrConcurrentUpdate):
		response.Fail(w, r, response.ErrVersionMismatch, err.Error())
	case audit.IsStorageError(err):
		h.logger.ErrorContext(r.Context(), "audit store unavailable", "error", err)
		code := database.Code(err)
		if code == response.ErrSystem {
			code = response.ErrServiceUnavail
		}
		response.ErrorProblem(w, r, response.MapStatus(code), "Audit log unavailable", code, nil)
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "error", err)
		response.Fail(w, r, response.ErrSystem, "internal server error")
	}
}
