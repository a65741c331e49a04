package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/pkg/contextx"
)

const auditWriteTimeout = 2 * time.Second

// AuditMiddleware appends an "admin.http.<method>" entry for every mutating request
// under cfg.AdminPathPrefix. Recording is best effort: a store failure is logged and
// the response is unaffected.
func AuditMiddleware(store audit.Store, cfg audit.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "audit_http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !shouldAudit(r, cfg) {
				next.ServeHTTP(w, r)
				return
			}

			body := captureBody(r, cfg.MaxBodySize)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			in := httpEntry(r, ww.Status(), body)
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
			defer cancel()
			if _, err := store.Append(ctx, in); err != nil {
				logger.ErrorContext(ctx, "failed to record admin request",
					"action", in.Action,
					"path", r.URL.Path,
					"error", err,
				)
			}
		})
	}
}

func shouldAudit(r *http.Request, cfg audit.Config) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	for _, p := range cfg.ExcludePaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return false
		}
	}
	return cfg.AdminPathPrefix != "" && strings.HasPrefix(r.URL.Path, cfg.AdminPathPrefix)
}

// captureBody reads up to limit bytes for the entry and restores the full body for the
// handler.
func captureBody(r *http.Request, limit int64) string {
	if r.Body == nil || limit <= 0 {
		return ""
	}
	head, _ := io.ReadAll(io.LimitReader(r.Body, limit))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return string(head)
}

func httpEntry(r *http.Request, status int, body string) audit.EntryInput {
	ctx := r.Context()
	route := r.URL.Path
	targetID := ""
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
		targetID = rctx.URLParam("id")
	}

	meta := map[string]any{
		"method":    r.Method,
		"route":     route,
		"path":      r.URL.Path,
		"status":    status,
		"ip":        clientIP(r),
		"userAgent": r.UserAgent(),
		"traceId":   contextx.GetTraceID(ctx),
	}
	if body != "" {
		meta["body"] = body
	}

	in := audit.EntryInput{
		Action:     "admin.http." + strings.ToLower(r.Method),
		Summary:    fmt.Sprintf("%s %s returned %d", r.Method, route, status),
		ActorID:    contextx.GetAuthPrincipalID(ctx),
		ActorEmail: contextx.GetAuthPrincipalEmail(ctx),
		TargetID:   targetID,
		TargetType: "http_route",
		Metadata:   meta,
	}
	if reqID := contextx.GetRequestID(ctx); reqID != "" {
		in.IdempotencyKey = "http:" + reqID
	}
	return in
}
