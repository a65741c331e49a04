package main

import (
	"context"
	"time"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/audit/store/mongo"
	"github.com/godamri/helix-activity/cache"
	"github.com/godamri/helix-activity/config"
	"github.com/godamri/helix-activity/crypto"
	"github.com/godamri/helix-activity/database"
	"github.com/godamri/helix-activity/eventbus"
	"github.com/godamri/helix-activity/feature"
	"github.com/godamri/helix-activity/log"
	"github.com/godamri/helix-activity/messaging"
	"github.com/godamri/helix-activity/server"
	"github.com/godamri/helix-activity/server/middleware"
	"github.com/godamri/helix-activity/user"
)

const (
	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"
)

type AppConfig struct {
	Service struct {
		Name string `yaml:"name" envconfig:"SERVICE_NAME" validate:"required"`
		Env  string `yaml:"env" envconfig:"SERVICE_ENV" validate:"oneof=local staging production"`
	} `yaml:"service"`

	Log         log.Config                   `yaml:"log"`
	Server      server.Config                `yaml:"server"`
	Database    database.Config              `yaml:"database"`
	Mongo       mongo.Config                 `yaml:"mongo"`
	Redis       cache.Config                 `yaml:"redis"`
	Kafka       messaging.Config             `yaml:"kafka"`
	Audit       audit.Config                 `yaml:"audit"`
	Bus         eventbus.Config              `yaml:"bus"`
	Auth        AuthConfig                   `yaml:"auth"`
	Idempotency middleware.IdempotencyConfig `yaml:"idempotency"`
	UserCache   UserCacheConfig              `yaml:"user_cache"`

	// ConfigWatchInterval is how often the config file is polled for tunable changes.
	ConfigWatchInterval time.Duration `yaml:"config_watch_interval" envconfig:"CONFIG_WATCH_INTERVAL"`

	Tunables Tunables `yaml:"tunables"`
}

type AuthConfig struct {
	Mode   string                         `yaml:"mode" envconfig:"AUTH_MODE" validate:"oneof=header jwt"`
	Header middleware.TrustedHeaderConfig `yaml:"header"`
	JWKS   crypto.JWKSConfig              `yaml:"jwks"`
}

type UserCacheConfig struct {
	TTL         time.Duration `yaml:"ttl" envconfig:"USER_CACHE_TTL"`
	NegativeTTL time.Duration `yaml:"negative_ttl" envconfig:"USER_CACHE_NEGATIVE_TTL"`
}

// Tunables are re-read from the config file while the service runs.
type Tunables struct {
	FeedSourceTimeout time.Duration        `yaml:"feed_source_timeout" envconfig:"FEED_SOURCE_TIMEOUT" validate:"gt=0"`
	RateLimit         middleware.RateLimit `yaml:"rate_limit"`
	Features          map[string]bool      `yaml:"features" envconfig:"FEATURES"`
}

func (c *AppConfig) SetDefaults() {
	c.Service.Name = "helix-activity"
	c.Service.Env = "local"
	c.Log.SetDefaults()
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Mongo.SetDefaults()
	c.Redis.SetDefaults()
	c.Kafka.SetDefaults()
	c.Audit.SetDefaults()
	c.Bus.SetDefaults()
	c.Auth.Mode = AuthModeHeader
	c.Auth.Header.SetDefaults()
	c.Auth.Header.TrustedProxies = []string{"127.0.0.1/32", "::1/128"}
	c.Auth.JWKS.SetDefaults()
	c.Idempotency.SetDefaults()
	c.UserCache.TTL = user.DefaultCacheTTL
	c.UserCache.NegativeTTL = user.DefaultNegativeTTL
	c.ConfigWatchInterval = 10 * time.Second
	c.Tunables.FeedSourceTimeout = 2 * time.Second
	c.Tunables.RateLimit.SetDefaults()
}

// tunableFlags resolves feature flags from the hot-reloadable tunables.
type tunableFlags struct {
	tunables *config.Container[Tunables]
}

func (f tunableFlags) IsEnabled(ctx context.Context, key string) bool {
	return feature.StaticProvider(f.tunables.Get().Features).IsEnabled(ctx, key)
}
