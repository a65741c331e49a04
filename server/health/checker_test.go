package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func ready(t *testing.T, c *Checker) (int, map[string]string) {
	t.Helper()
	r := chi.NewRouter()
	c.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadiness_AllUp(t *testing.T) {
	c := NewChecker(discard)
	c.Register("db", PingFunc(func(context.Context) error { return nil }))
	c.Register("redis", PingFunc(func(context.Context) error { return nil }))

	code, body := ready(t, c)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"status": "UP", "db": "UP", "redis": "UP"}, body)
}

func TestReadiness_FailingAndSlowDependencies(t *testing.T) {
	grpcHealth := health.NewServer()
	c := NewChecker(discard, WithTimeout(20*time.Millisecond), WithGRPC(grpcHealth))
	c.Register("db", PingFunc(func(context.Context) error { return nil }))
	c.Register("redis", PingFunc(func(context.Context) error { return errors.New("refused") }))
	c.Register("mongo", PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	code, body := ready(t, c)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"status": "DOWN", "db": "UP", "redis": "DOWN", "mongo": "DOWN"}, body)

	resp, err := grpcHealth.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestLiveness(t *testing.T) {
	r := chi.NewRouter()
	NewChecker(discard).RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
