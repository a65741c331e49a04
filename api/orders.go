package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/godamri/helix-activity/http/response"
	"github.com/godamri/helix-activity/order"
	"github.com/godamri/helix-activity/pkg/contextx"
)

type changeStatusRequest struct {
	Status order.Status `json:"status"`
}

func (h *handlers) patchOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		response.Fail(w, r, response.ErrInvalidFormat, "malformed JSON body")
		return
	}

	ctx := r.Context()
	updated, err := h.orders.ChangeStatus(ctx, chi.URLParam(r, "id"), req.Status, order.Actor{
		ID:      contextx.GetAuthPrincipalID(ctx),
		Email:   contextx.GetAuthPrincipalEmail(ctx),
		IsAdmin: contextx.IsAdmin(ctx),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, updated)
}
