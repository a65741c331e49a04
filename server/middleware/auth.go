package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/godamri/helix-activity/http/response"
	"github.com/godamri/helix-activity/pkg/contextx"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// AuthPayload decouples the strategy from the transport.
type AuthPayload struct {
	Headers    map[string]string
	RemoteAddr string
	Method     string
	Path       string
}

// GetHeader looks a header up case-insensitively.
func (p *AuthPayload) GetHeader(key string) string {
	if v, ok := p.Headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	key = strings.ToLower(key)
	for k, v := range p.Headers {
		if strings.ToLower(k) == key {
			return v
		}
	}
	return ""
}

// AuthStrategy hydrates ctx with the principal (see contextx) or fails.
type AuthStrategy interface {
	Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error)
}

type AuthMiddleware struct {
	strategy AuthStrategy
}

func NewAuthMiddleware(strategy AuthStrategy) *AuthMiddleware {
	return &AuthMiddleware{strategy: strategy}
}

func (m *AuthMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			if len(v) > 0 {
				headers[http.CanonicalHeaderKey(k)] = v[0]
			}
		}

		ctx, err := m.strategy.Authenticate(r.Context(), AuthPayload{
			Headers:    headers,
			RemoteAddr: r.RemoteAddr,
			Method:     r.Method,
			Path:       r.URL.Path,
		})
		if err != nil {
			response.Fail(w, r, response.ErrInvalidToken, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GRPCUnaryInterceptor authenticates unary calls. Health probes pass through.
func (m *AuthMiddleware) GRPCUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)

	headers := make(map[string]string, len(md))
	for k, v := range md {
		if len(v) > 0 {
			headers[http.CanonicalHeaderKey(k)] = v[0]
		}
	}

	remoteAddr := "0.0.0.0:0"
	if p, ok := peer.FromContext(ctx); ok {
		remoteAddr = p.Addr.String()
	}

	newCtx, err := m.strategy.Authenticate(ctx, AuthPayload{
		Headers:    headers,
		RemoteAddr: remoteAddr,
		Method:     info.FullMethod,
		Path:       info.FullMethod,
	})
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return handler(contextx.WithEntryPoint(newCtx, "grpc"), req)
}

// RequireRole rejects principals that do not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if contextx.GetAuthPrincipalID(r.Context()) == "" {
				response.Fail(w, r, response.ErrMissingToken, "authentication required")
				return
			}
			if !contextx.HasRole(r.Context(), role) {
				response.Fail(w, r, response.ErrForbidden, "requires role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// principalKey identifies the caller for per-principal state (rate limits, idempotency).
func principalKey(ctx context.Context, fallback string) string {
	if id := contextx.GetAuthPrincipalID(ctx); id != "" {
		return "user:" + id
	}
	return "ip:" + fallback
}
