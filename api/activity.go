package api

import (
	"net/http"

	"github.com/godamri/helix-activity/activity"
	"github.com/godamri/helix-activity/http/response"
	"github.com/godamri/helix-activity/pkg/contextx"
)

// getActivity serves GET /api/v1/activity. Without userId an admin gets the cross-user
// view and anyone else their own feed. Another user's feed needs the admin role.
func (h *handlers) getActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	userID := q.Get("userId")
	isAdmin := contextx.IsAdmin(ctx)
	if userID == "" && !isAdmin {
		userID = contextx.GetAuthPrincipalID(ctx)
	}
	if userID != contextx.GetAuthPrincipalID(ctx) && !isAdmin {
		response.Fail(w, r, response.ErrForbidden, "feed is restricted to the caller")
		return
	}

	limit, err := parseLimit(q)
	if err != nil {
		response.Fail(w, r, response.ErrValidation, err.Error())
		return
	}
	after, err := parseAfter(q)
	if err != nil {
		response.Fail(w, r, response.ErrInvalidCursor, err.Error())
		return
	}

	var types []activity.Type
	for _, raw := range listParam(q, "types") {
		t, err := activity.ParseType(raw)
		if err != nil {
			response.Fail(w, r, response.ErrValidation, err.Error())
			return
		}
		types = append(types, t)
	}

	page, err := h.feed.Feed(ctx, activity.Params{
		UserID: userID,
		Limit:  limit,
		After:  after,
		Types:  types,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.writeError(w, r, err)
		return
	}
	response.Raw(w, http.StatusOK, page)
}
