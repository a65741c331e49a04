// Package health serves liveness and readiness for HTTP and gRPC.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Checker struct {
	deps    map[string]Pinger
	timeout time.Duration
	logger  *slog.Logger
	grpc    *health.Server
}

type Option func(*Checker)

// WithTimeout bounds every readiness probe. A slow dependency counts as down so the
// load balancer stops routing to us.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// WithGRPC mirrors readiness into a gRPC health server.
func WithGRPC(srv *health.Server) Option {
	return func(c *Checker) { c.grpc = srv }
}

func NewChecker(logger *slog.Logger, opts ...Option) *Checker {
	c := &Checker{
		deps:    make(map[string]Pinger),
		timeout: 500 * time.Millisecond,
		logger:  logger.With("component", "health"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a readiness dependency. Call before serving.
func (c *Checker) Register(name string, p Pinger) {
	c.deps[name] = p
}

func (c *Checker) RegisterRoutes(r chi.Router) {
	r.Get("/health", c.HandleHealth)
	r.Get("/ready", c.HandleReadiness)
}

// HandleHealth is the liveness probe: 200 while the process runs.
func (c *Checker) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusUp})
}

func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	report, ok := c.Check(r.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// Check pings every dependency concurrently and returns per-dependency status.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = map[string]string{"status": StatusUp}
		ok     = true
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			status := StatusUp
			if err := p.Ping(ctx); err != nil {
				c.logger.ErrorContext(ctx, "readiness check failed", "dependency", name, "error", err)
				status = StatusDown
			}
			mu.Lock()
			defer mu.Unlock()
			report[name] = status
			if status == StatusDown {
				ok = false
				report["status"] = StatusDown
			}
		}(name, c.deps[name])
	}
	wg.Wait()

	if c.grpc != nil {
		serving := healthpb.HealthCheckResponse_SERVING
		if !ok {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		c.grpc.SetServingStatus("", serving)
	}
	return report, ok
}

// Run refreshes the gRPC serving status every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			if c.grpc != nil {
				c.grpc.Shutdown()
			}
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
