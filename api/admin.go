package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/godamri/helix-activity/http/response"
)

// invalidateUser drops the cached directory entry so the next audit email backfill
// reads the source of truth.
func (h *handlers) invalidateUser(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.users.Invalidate(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.logger.ErrorContext(r.Context(), "user cache invalidation failed", "error", err)
		response.Fail(w, r, response.ErrServiceUnavail, "cache unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
