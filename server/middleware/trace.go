package middleware

import (
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/godamri/helix-activity/pkg/contextx"
)

const (
	TraceHeader   = "X-Trace-Id"
	RequestHeader = "X-Request-Id"
)

// TraceIDMiddleware stamps trace and request ids on the context and response. An
// active OTel span wins over the inbound header.
func TraceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			uid := uuid.New()
			traceID = hex.EncodeToString(uid[:])
		}

		reqID := r.Header.Get(RequestHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(TraceHeader, traceID)
		w.Header().Set(RequestHeader, reqID)

		ctx := contextx.WithTraceID(r.Context(), traceID)
		ctx = contextx.WithRequestID(ctx, reqID)
		ctx = contextx.WithEntryPoint(ctx, "http")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
