// Package api exposes the activity feed, the audit log and order status changes over
// HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-activity/activity"
	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/order"
	"github.com/godamri/helix-activity/pkg/contextx"
	"github.com/godamri/helix-activity/server/health"
	"github.com/godamri/helix-activity/server/middleware"
)

type FeedService interface {
	Feed(ctx context.Context, p activity.Params) (activity.Page, error)
}

type OrderStatusService interface {
	ChangeStatus(ctx context.Context, id string, next order.Status, actor order.Actor) (*order.Order, error)
}

// UserCache is the invalidation side of the cached user directory.
type UserCache interface {
	Invalidate(ctx context.Context, id string) error
}

type Deps struct {
	ServiceName string
	Logger      *slog.Logger

	Feed   FeedService
	Audit  audit.Store
	Orders OrderStatusService
	Users  UserCache

	Auth        middleware.AuthStrategy
	Limiter     *middleware.RateLimiter
	Redis       redis.Cmdable
	Health      *health.Checker
	AuditHTTP   audit.Config
	Idempotency middleware.IdempotencyConfig
}

type handlers struct {
	feed   FeedService
	audit  audit.Store
	orders OrderStatusService
	users  UserCache
	logger *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	h := &handlers{
		feed:   d.Feed,
		audit:  d.Audit,
		orders: d.Orders,
		users:  d.Users,
		logger: d.Logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.PanicRecovery(d.Logger))
	r.Use(middleware.OTelMiddleware(d.ServiceName, r))
	r.Use(middleware.TraceIDMiddleware)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.SecurityHeaders)

	if d.Health != nil {
		d.Health.RegisterRoutes(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(d.Auth).HTTPMiddleware)
		if d.Limiter != nil {
			r.Use(d.Limiter.HTTPMiddleware)
		}
		r.Use(middleware.Idempotency(d.Redis, d.Idempotency, d.Logger))
		r.Use(middleware.AuditMiddleware(d.Audit, d.AuditHTTP, d.Logger))

		r.Get("/activity", h.getActivity)
		r.Patch("/orders/{id}/status", h.patchOrderStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(contextx.RoleAdmin))
			r.Get("/audit-logs", h.listAuditLogs)
			r.Post("/audit-logs", h.createAuditLog)
			r.Post("/admin/users/{id}/cache/invalidate", h.invalidateUser)
		})
	})
	return r
}
