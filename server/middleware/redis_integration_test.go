//go:build integration

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/godamri/helix-activity/pkg/contextx"
)

type RedisMiddlewareSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	rdb       *redis.Client
}

func TestRedisMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(RedisMiddlewareSuite))
}

func (s *RedisMiddlewareSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(url)
	s.Require().NoError(err)
	s.rdb = redis.NewClient(opts)
}

func (s *RedisMiddlewareSuite) TearDownSuite() {
	_ = s.rdb.Close()
	_ = s.container.Terminate(context.Background())
}

func (s *RedisMiddlewareSuite) SetupTest() {
	s.Require().NoError(s.rdb.FlushAll(context.Background()).Err())
}

func (s *RedisMiddlewareSuite) TestRateLimitBurstThenReject() {
	lim := RateLimit{Rate: 1, Burst: 2, Period: time.Minute}
	h := NewRateLimiter(s.rdb, func() RateLimit { return lim }, discard).
		HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	codes := make([]int, 0, 3)
	for range 3 {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
		r = r.WithContext(contextx.WithAuthPrincipalID(r.Context(), "u1"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			s.NotEmpty(w.Header().Get("Retry-After"))
		}
	}
	s.Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another principal has its own bucket.
	r := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	r = r.WithContext(contextx.WithAuthPrincipalID(r.Context(), "u2"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	s.Equal(http.StatusOK, w.Code)
}

func (s *RedisMiddlewareSuite) TestIdempotencyReplaysFirstResponse() {
	var calls atomic.Int32
	var seenKey string
	cfg := IdempotencyConfig{}
	cfg.SetDefaults()
	h := Idempotency(s.rdb, cfg, discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = contextx.GetIdempotencyKey(r.Context())
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"e1"}`))
	}))

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/audit-logs", strings.NewReader(`{}`))
		r.Header.Set("Idempotency-Key", "k-1")
		r = r.WithContext(contextx.WithAuthPrincipalID(r.Context(), "admin-1"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	first := send()
	second := send()

	s.EqualValues(1, calls.Load())
	s.Equal("k-1", seenKey)
	s.Equal(http.StatusCreated, second.Code)
	s.Equal(first.Body.String(), second.Body.String())
	s.Equal("true", second.Header().Get("X-Idempotency-Hit"))
}

func (s *RedisMiddlewareSuite) TestIdempotencyServerErrorIsRetryable() {
	var calls atomic.Int32
	cfg := IdempotencyConfig{}
	cfg.SetDefaults()
	h := Idempotency(s.rdb, cfg, discard)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	for _, want := range []int{http.StatusServiceUnavailable, http.StatusCreated} {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/audit-logs", nil)
		r.Header.Set("Idempotency-Key", "k-2")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		s.Equal(want, w.Code)
	}
}
