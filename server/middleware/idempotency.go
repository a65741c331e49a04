package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-activity/http/response"
	"github.com/godamri/helix-activity/pkg/contextx"
)

const idempotencyProcessing = "PROCESSING"

type IdempotencyConfig struct {
	HeaderKey string        `yaml:"header_key" envconfig:"IDEMPOTENCY_HEADER"`
	Expiry    time.Duration `yaml:"expiry" envconfig:"IDEMPOTENCY_EXPIRY"`
	LockTTL   time.Duration `yaml:"lock_ttl" envconfig:"IDEMPOTENCY_LOCK_TTL"`
}

func (c *IdempotencyConfig) SetDefaults() {
	c.HeaderKey = "Idempotency-Key"
	c.Expiry = 24 * time.Hour
	c.LockTTL = 30 * time.Second
}

// StoredResponse is the replayed response cached in Redis.
type StoredResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

type responseCapturer struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (w *responseCapturer) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseCapturer) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the first completed response for a repeated Idempotency-Key
// from the same principal. The key is also put on the context so handlers can derive
// storage-level idempotency from it.
func Idempotency(rdb redis.Cmdable, cfg IdempotencyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "idempotency")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(cfg.HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			r = r.WithContext(contextx.WithIdempotencyKey(r.Context(), key))
			if rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			redisKey := "idempotency:" + principalKey(ctx, clientIP(r)) + ":" + key

			acquired, err := rdb.SetNX(ctx, redisKey, idempotencyProcessing, cfg.LockTTL).Result()
			if err != nil {
				logger.WarnContext(ctx, "idempotency lock failed, processing without replay", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !acquired {
				val, err := rdb.Get(ctx, redisKey).Result()
				if err != nil {
					next.ServeHTTP(w, r)
					return
				}
				if val == idempotencyProcessing {
					response.Fail(w, r, response.ErrInProgress, "request with this idempotency key is in progress")
					return
				}

				var stored StoredResponse
				if err := json.Unmarshal([]byte(val), &stored); err == nil {
					for k, vs := range stored.Headers {
						for _, v := range vs {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(stored.Status)
					_, _ = w.Write(stored.Body)
					return
				}
				logger.WarnContext(ctx, "idempotency cache entry corrupted, reprocessing", "key", redisKey)
			}

			capturer := &responseCapturer{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capturer, r)

			// Server errors stay retryable.
			if capturer.statusCode >= http.StatusInternalServerError {
				rdb.Del(ctx, redisKey)
				return
			}

			data, err := json.Marshal(StoredResponse{
				Status:  capturer.statusCode,
				Headers: capturer.Header(),
				Body:    capturer.body.Bytes(),
			})
			if err != nil {
				rdb.Del(ctx, redisKey)
				return
			}
			rdb.Set(ctx, redisKey, data, cfg.Expiry)
		})
	}
}
