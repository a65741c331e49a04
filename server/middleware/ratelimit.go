package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-activity/http/response"
)

// luaGCRA implements the Generic Cell Rate Algorithm. It returns -1 when the request
// is allowed, otherwise the seconds until it would be.
var luaGCRA = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local period = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])

	local emission_interval = period / rate
	local now = redis.call("TIME")
	local now_ts = tonumber(now[1]) + (tonumber(now[2]) / 1000000)

	local tat = redis.call("GET", key)
	if not tat then
		tat = now_ts
	else
		tat = tonumber(tat)
	end
	tat = math.max(now_ts, tat)

	local new_tat = tat + emission_interval
	local allow_at = new_tat - (burst * emission_interval)

	if allow_at <= now_ts then
		redis.call("SET", key, new_tat, "EX", math.ceil(period * 2))
		return -1
	end

	return math.ceil(allow_at - now_ts)
`)

// RateLimit is the hot-reloadable limit. Rate <= 0 disables limiting.
type RateLimit struct {
	Rate   int           `yaml:"rate" envconfig:"RATE_LIMIT_RATE" validate:"gte=0"`
	Burst  int           `yaml:"burst" envconfig:"RATE_LIMIT_BURST" validate:"gte=0"`
	Period time.Duration `yaml:"period" envconfig:"RATE_LIMIT_PERIOD"`
}

func (l *RateLimit) SetDefaults() {
	l.Rate = 100
	l.Burst = 20
	l.Period = time.Second
}

// RateLimiter applies GCRA per principal. Limits are read on every call and Redis
// failures let traffic through.
type RateLimiter struct {
	rdb    redis.Scripter
	limits func() RateLimit
	logger *slog.Logger
}

func NewRateLimiter(rdb redis.Scripter, limits func() RateLimit, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limits: limits,
		logger: logger.With("component", "rate_limit"),
	}
}

// Allow reports whether identity may proceed and, if not, how long to wait.
func (l *RateLimiter) Allow(ctx context.Context, identity string) (bool, time.Duration, RateLimit) {
	lim := l.limits()
	if lim.Rate <= 0 || l.rdb == nil {
		return true, 0, lim
	}
	period := lim.Period
	if period <= 0 {
		period = time.Second
	}
	burst := max(lim.Burst, 1)

	res, err := luaGCRA.Run(ctx, l.rdb, []string{"rl:" + identity}, lim.Rate, period.Seconds(), burst).Float64()
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed, allowing request", "error", err)
		return true, 0, lim
	}
	if res >= 0 {
		return false, time.Duration(res) * time.Second, lim
	}
	return true, 0, lim
}

func (l *RateLimiter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry, lim := l.Allow(r.Context(), principalKey(r.Context(), clientIP(r)))
		if lim.Rate > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(lim.Rate))
		}
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			response.Fail(w, r, response.ErrRateLimit, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers proxy headers. The ingress must strip client-supplied values.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xr := r.Header.Get("X-Real-Ip"); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
