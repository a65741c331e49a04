package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-activity/config"
	"github.com/godamri/helix-activity/feature"
)

func TestAppConfig_DefaultsValidate(t *testing.T) {
	cfg, err := config.NewLoader[AppConfig]("ACTIVITY", "").Load()
	require.NoError(t, err)

	assert.Equal(t, AuthModeHeader, cfg.Auth.Mode)
	assert.Equal(t, "memory", cfg.Audit.Store)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Tunables.FeedSourceTimeout)
}

func TestAppConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_STORE", "postgres")
	t.Setenv("FEED_SOURCE_TIMEOUT", "750ms")
	t.Setenv("AUTH_MODE", "jwt")

	cfg, err := config.NewLoader[AppConfig]("ACTIVITY", "").Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Audit.Store)
	assert.Equal(t, 750*time.Millisecond, cfg.Tunables.FeedSourceTimeout)
	assert.Equal(t, AuthModeJWT, cfg.Auth.Mode)
}

func TestAppConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("AUDIT_STORE", "cassandra")
	_, err := config.NewLoader[AppConfig]("ACTIVITY", "").Load()
	assert.Error(t, err)
}

func TestTunableFlags(t *testing.T) {
	var cfg AppConfig
	cfg.SetDefaults()
	tunables := config.NewContainer(cfg.Tunables)
	flags := feature.NewManager(tunableFlags{tunables: tunables})

	assert.False(t, flags.IsEnabled(context.Background(), feature.OrderEventRelay))

	next := cfg.Tunables
	next.Features = map[string]bool{feature.OrderEventRelay: true}
	require.NoError(t, tunables.Update(next))
	assert.True(t, flags.Gate(feature.OrderEventRelay)(context.Background()))
}
