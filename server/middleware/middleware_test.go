package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/audit/store/memory"
	"github.com/godamri/helix-activity/crypto"
	"github.com/godamri/helix-activity/pkg/contextx"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type principal struct {
	ID, Email string
	Roles     []string
}

func whoami(got *principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = principal{
			ID:    contextx.GetAuthPrincipalID(r.Context()),
			Email: contextx.GetAuthPrincipalEmail(r.Context()),
			Roles: contextx.GetAuthRoles(r.Context()),
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestTrustedHeaderStrategy(t *testing.T) {
	strategy, err := NewTrustedHeaderStrategy(TrustedHeaderConfig{TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1"}}, discard)
	require.NoError(t, err)
	var got principal
	h := NewAuthMiddleware(strategy).HTTPMiddleware(whoami(&got))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-User-Id", "u1")
	r.Header.Set("X-User-Email", "u1@example.com")
	r.Header.Set("X-User-Roles", "admin, support,")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, principal{ID: "u1", Email: "u1@example.com", Roles: []string{"admin", "support"}}, got)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	r.RemoteAddr = "192.168.1.9:5555"
	r.Header.Set("X-User-Id", "u1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTrustedHeaderStrategy_RejectsBadConfig(t *testing.T) {
	_, err := NewTrustedHeaderStrategy(TrustedHeaderConfig{}, discard)
	assert.Error(t, err)
	_, err = NewTrustedHeaderStrategy(TrustedHeaderConfig{TrustedProxies: []string{"not-an-ip"}}, discard)
	assert.Error(t, err)
}

type verifierFunc func(ctx context.Context, token string) (*crypto.Claims, error)

func (f verifierFunc) VerifyToken(ctx context.Context, token string) (*crypto.Claims, error) {
	return f(ctx, token)
}

func TestJWTStrategy(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, token string) (*crypto.Claims, error) {
		switch token {
		case "good":
			return &crypto.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"},
				Email:            "ops@example.com",
				Roles:            []string{"admin"},
				SessionID:        "s-9",
			}, nil
		case "expired":
			return nil, crypto.ErrExpiredToken
		}
		return nil, crypto.ErrInvalidToken
	})
	strategy := NewJWTStrategy(verifier, discard)

	ctx, err := strategy.Authenticate(context.Background(), AuthPayload{Headers: map[string]string{"Authorization": "Bearer good"}})
	require.NoError(t, err)
	assert.Equal(t, "admin-1", contextx.GetAuthPrincipalID(ctx))
	assert.Equal(t, "ops@example.com", contextx.GetAuthPrincipalEmail(ctx))
	assert.Equal(t, "s-9", contextx.GetAuthSessionID(ctx))
	assert.True(t, contextx.IsAdmin(ctx))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer expired", "Bearer forged"} {
		_, err := strategy.Authenticate(context.Background(), AuthPayload{Headers: map[string]string{"Authorization": header}})
		assert.Error(t, err, header)
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireRole(contextx.RoleAdmin)(ok)

	cases := []struct {
		name  string
		ctx   func(context.Context) context.Context
		codes int
	}{
		{"anonymous", func(ctx context.Context) context.Context { return ctx }, http.StatusUnauthorized},
		{"customer", func(ctx context.Context) context.Context {
			return contextx.WithAuthRoles(contextx.WithAuthPrincipalID(ctx, "u1"), []string{"customer"})
		}, http.StatusForbidden},
		{"admin", func(ctx context.Context) context.Context {
			return contextx.WithAuthRoles(contextx.WithAuthPrincipalID(ctx, "a1"), []string{"admin"})
		}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r.WithContext(tc.ctx(r.Context())))
			assert.Equal(t, tc.codes, w.Code)
		})
	}
}

func TestPanicRecovery(t *testing.T) {
	h := PanicRecovery(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestTraceIDMiddleware(t *testing.T) {
	var traceID, reqID string
	h := TraceIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		traceID = contextx.GetTraceID(r.Context())
		reqID = contextx.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(TraceHeader, "abc123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "abc123", traceID)
	assert.NotEmpty(t, reqID)
	assert.Equal(t, reqID, w.Header().Get(RequestHeader))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, traceID, 32)
}

func adminRouter(store audit.Store) http.Handler {
	return adminRouterAs(store, "ops@example.com")
}

func adminRouterAs(store audit.Store, email string) http.Handler {
	cfg := audit.Config{}
	cfg.SetDefaults()
	cfg.MaxBodySize = 16

	r := chi.NewRouter()
	r.Use(TraceIDMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := contextx.WithAuthPrincipalID(r.Context(), "admin-1")
			ctx = contextx.WithAuthPrincipalEmail(ctx, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Use(AuditMiddleware(store, cfg, discard))
	r.Post("/api/v1/admin/users/{id}/promote", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(b)
	})
	r.Get("/api/v1/admin/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/api/v1/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestAuditMiddleware_RecordsAdminMutations(t *testing.T) {
	store := memory.New()
	h := adminRouter(store)

	payload := `{"role":"support","note":"long enough to be truncated"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/u3/promote", strings.NewReader(payload)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, payload, w.Body.String(), "handler must see the full body")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/u3", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1", nil))

	page, err := store.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	e := page.Items[0]
	assert.Equal(t, "admin.http.post", e.Action)
	assert.Equal(t, "POST /api/v1/admin/users/{id}/promote returned 201", e.Summary)
	assert.Equal(t, "admin-1", e.ActorID)
	assert.Equal(t, "ops@example.com", e.ActorEmail)
	assert.Equal(t, "u3", e.TargetID)
	assert.Equal(t, payload[:16], e.Metadata["body"])
	assert.Equal(t, 201, e.Metadata["status"])
}

type brokenStore struct{ audit.NoopStore }

func (brokenStore) Append(context.Context, audit.EntryInput) (audit.Entry, error) {
	return audit.Entry{}, &audit.StorageError{Op: "append", Err: errors.New("down")}
}

func TestAuditMiddleware_StoreFailureDoesNotAffectResponse(t *testing.T) {
	w := httptest.NewRecorder()
	adminRouter(brokenStore{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/u3/promote", strings.NewReader("{}")))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAuditMiddleware_RecordsPrincipalWithUnusualEmail(t *testing.T) {
	store := memory.New()
	h := adminRouterAs(store, "ops@internal")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/u3/promote", strings.NewReader("{}")))
	require.Equal(t, http.StatusCreated, w.Code)

	page, err := store.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ops@internal", page.Items[0].ActorEmail)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", clientIP(r))

	r.Header.Set("X-Real-Ip", "1.1.1.1")
	assert.Equal(t, "1.1.1.1", clientIP(r))

	r.Header.Set("X-Forwarded-For", "2.2.2.2, 10.0.0.1")
	assert.Equal(t, "2.2.2.2", clientIP(r))
}

func TestRateLimiter_DisabledOrNoRedisAllows(t *testing.T) {
	l := NewRateLimiter(nil, func() RateLimit { return RateLimit{Rate: 1, Burst: 1} }, discard)
	ok, _, _ := l.Allow(context.Background(), "user:u1")
	assert.True(t, ok)
}
