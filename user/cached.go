package user

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-activity/cache"
)

const (
	DefaultCacheTTL    = 10 * time.Minute
	DefaultNegativeTTL = time.Minute
)

// cachedEntry distinguishes a cached miss from a cached user.
type cachedEntry struct {
	Found bool  `json:"found"`
	User  *User `json:"user,omitempty"`
}

// CachedDirectory fronts a Directory with redis. Redis failures fall through to the
// backing directory.
type CachedDirectory struct {
	next        Directory
	rdb         redis.Cmdable
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

type CacheOption func(*CachedDirectory)

func WithTTL(ttl, negative time.Duration) CacheOption {
	return func(d *CachedDirectory) {
		if ttl > 0 {
			d.ttl = ttl
		}
		if negative > 0 {
			d.negativeTTL = negative
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(d *CachedDirectory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewCachedDirectory(next Directory, rdb redis.Cmdable, opts ...CacheOption) *CachedDirectory {
	d := &CachedDirectory{
		next:        next,
		rdb:         rdb,
		ttl:         DefaultCacheTTL,
		negativeTTL: DefaultNegativeTTL,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "user_cache")
	return d
}

func cacheKey(id string) string { return "user:dir:" + id }

func (d *CachedDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	var hit cachedEntry
	found, err := cache.GetJSON(ctx, d.rdb, cacheKey(id), &hit)
	if err != nil {
		d.logger.WarnContext(ctx, "user cache read failed", "error", err)
	}
	if found {
		if !hit.Found {
			return nil, nil
		}
		return hit.User, nil
	}

	u, err := d.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, ttl := cachedEntry{Found: u != nil, User: u}, d.ttl
	if u == nil {
		ttl = d.negativeTTL
	}
	if err := cache.SetJSON(ctx, d.rdb, cacheKey(id), entry, ttl); err != nil {
		d.logger.WarnContext(ctx, "user cache write failed", "error", err)
	}
	return u, nil
}

// Invalidate drops the cached lookup for id.
func (d *CachedDirectory) Invalidate(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, cacheKey(id)).Err()
}
