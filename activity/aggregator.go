package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/favorite"
	"github.com/godamri/helix-activity/order"
	"github.com/godamri/helix-activity/pkg/telemetry"
)

const DefaultSourceTimeout = 2 * time.Second

// Aggregator merges the three feed sources. It holds no state of its own.
type Aggregator struct {
	favorites favorite.Provider
	orders    OrderSource
	audit     AuditSource

	timeout func() time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Aggregator)

// WithSourceTimeout reads the per-source deadline on every call so it can be
// hot-reloaded.
func WithSourceTimeout(fn func() time.Duration) Option {
	return func(a *Aggregator) {
		if fn != nil {
			a.timeout = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAggregator(favorites favorite.Provider, orders OrderSource, auditSrc AuditSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		favorites: favorites,
		orders:    orders,
		audit:     auditSrc,
		timeout:   func() time.Duration { return DefaultSourceTimeout },
		logger:    slog.Default(),
		tracer:    telemetry.Tracer("activity"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "activity_feed")
	return a
}

// Feed returns one page of the merged feed. A failing or slow source contributes no
// items; Feed itself never fails because of a source.
func (a *Aggregator) Feed(ctx context.Context, p Params) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	ctx, span := a.tracer.Start(ctx, "activity.Feed", trace.WithAttributes(
		attribute.Bool("activity.user_scoped", p.UserID != ""),
		attribute.Int("activity.limit", p.limit()),
	))
	defer span.End()

	var favs, ords, audits []Item
	var g errgroup.Group

	if p.UserID != "" && p.wants(TypeFavorite) && a.favorites != nil {
		g.Go(func() error {
			favs = a.fetch(ctx, TypeFavorite, func(ctx context.Context) ([]Item, error) {
				return a.fetchFavorites(ctx, p.UserID)
			})
			return nil
		})
	}
	if p.wants(TypeOrder) && a.orders != nil {
		g.Go(func() error {
			ords = a.fetch(ctx, TypeOrder, func(ctx context.Context) ([]Item, error) {
				return a.fetchOrders(ctx, p.UserID)
			})
			return nil
		})
	}
	if p.wants(TypeAudit) && a.audit != nil {
		g.Go(func() error {
			audits = a.fetch(ctx, TypeAudit, func(ctx context.Context) ([]Item, error) {
				return a.fetchAudit(ctx, p.UserID, p.After)
			})
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]Item, 0, len(favs)+len(ords)+len(audits))
	merged = append(merged, favs...)
	merged = append(merged, ords...)
	merged = append(merged, audits...)

	page := paginate(merged, p)
	span.SetAttributes(
		attribute.Int("activity.items", len(page.Items)),
		attribute.Bool("activity.has_more", page.HasMore),
	)
	return page, nil
}

// paginate sorts newest first, applies the cursor, then the type filter, then the
// limit. The cursor is emitted from the last returned item.
func paginate(items []Item, p Params) Page {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp > items[j].Timestamp
		}
		if items[i].Type != items[j].Type {
			return items[i].Type < items[j].Type
		}
		return items[i].ID < items[j].ID
	})

	filtered := items[:0]
	for _, it := range items {
		if p.After != nil && it.Timestamp >= *p.After {
			continue
		}
		if !p.wants(it.Type) {
			continue
		}
		filtered = append(filtered, it)
	}

	limit := p.limit()
	page := Page{Items: filtered}
	if len(filtered) > limit {
		page.Items = filtered[:limit:limit]
		page.HasMore = true
	}
	if len(page.Items) > 0 {
		cursor := page.Items[len(page.Items)-1].Timestamp
		page.NextCursor = &cursor
	}
	if page.Items == nil {
		page.Items = []Item{}
	}
	return page
}

type fetchResult struct {
	items []Item
	err   error
}

// fetch runs one source under its own deadline and error boundary. The source runs on
// its own goroutine so one that ignores ctx still cannot hold the feed past the
// deadline.
func (a *Aggregator) fetch(ctx context.Context, source Type, fn func(context.Context) ([]Item, error)) []Item {
	ctx, span := a.tracer.Start(ctx, "activity.fetch."+string(source))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fetchResult{err: fmt.Errorf("source panicked: %v", rec)}
			}
		}()
		items, err := fn(ctx)
		done <- fetchResult{items: items, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	sourceDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())

	if res.err != nil {
		sourceFailuresTotal.WithLabelValues(string(source)).Inc()
		span.RecordError(res.err)
		span.SetStatus(codes.Error, "source unavailable")
		a.logger.WarnContext(ctx, "activity source unavailable, serving partial feed",
			"source", source,
			"error", res.err,
		)
		return nil
	}
	span.SetAttributes(attribute.Int("activity.source_items", len(res.items)))
	return res.items
}

func (a *Aggregator) fetchFavorites(ctx context.Context, userID string) ([]Item, error) {
	favs, err := a.favorites.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(favs))
	for _, f := range favs {
		items = append(items, fromFavorite(f))
	}
	return items, nil
}

func (a *Aggregator) fetchOrders(ctx context.Context, userID string) ([]Item, error) {
	var (
		orders []order.Order
		err    error
	)
	if userID != "" {
		orders, err = a.orders.ListByUser(ctx, userID, SourceWindow)
	} else {
		orders, err = a.orders.ListRecent(ctx, SourceWindow)
	}
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(orders))
	for _, o := range orders {
		items = append(items, fromOrder(o))
	}
	return items, nil
}

func (a *Aggregator) fetchAudit(ctx context.Context, userID string, after *int64) ([]Item, error) {
	page, err := a.audit.Query(ctx, audit.Filter{Limit: audit.MaxLimit, After: after})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(page.Items))
	for _, e := range page.Items {
		if userID != "" && !involves(e, userID) {
			continue
		}
		items = append(items, fromAudit(e))
	}
	return items, nil
}
