package api

import (
	"encoding/json"
	"net/http"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/http/response"
	"github.com/godamri/helix-activity/pkg/contextx"
)

const maxAuditBody = 64 << 10

func (h *handlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

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

	page, err := h.audit.Query(r.Context(), audit.Filter{
		Action: q.Get("action"),
		Limit:  limit,
		After:  after,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Paged(w, r, page.Items, page.NextCursor)
}

type createAuditLogRequest struct {
	Action     string         `json:"action"`
	Summary    string         `json:"summary"`
	TargetID   string         `json:"targetId"`
	TargetType string         `json:"targetType"`
	Metadata   map[string]any `json:"metadata"`
}

// createAuditLog records an administrative action on behalf of the caller. The
// Idempotency-Key header, when present, also dedupes at the store.
func (h *handlers) createAuditLog(w http.ResponseWriter, r *http.Request) {
	var req createAuditLogRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuditBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.Fail(w, r, response.ErrInvalidFormat, "malformed JSON body")
		return
	}

	ctx := r.Context()
	in := audit.EntryInput{
		Action:     req.Action,
		Summary:    req.Summary,
		ActorID:    contextx.GetAuthPrincipalID(ctx),
		ActorEmail: contextx.GetAuthPrincipalEmail(ctx),
		TargetID:   req.TargetID,
		TargetType: req.TargetType,
		Metadata:   req.Metadata,
	}
	if key := contextx.GetIdempotencyKey(ctx); key != "" {
		in.IdempotencyKey = "http:" + in.ActorID + ":" + key
	}

	entry, err := h.audit.Append(ctx, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, entry)
}
