package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_IsEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("no providers means off", func(t *testing.T) {
		assert.False(t, NewManager().IsEnabled(ctx, OrderEventRelay))
		var nilManager *Manager
		assert.False(t, nilManager.IsEnabled(ctx, OrderEventRelay))
	})

	t.Run("static provider", func(t *testing.T) {
		m := NewManager(StaticProvider{OrderEventRelay: true})
		assert.True(t, m.IsEnabled(ctx, OrderEventRelay))
		assert.False(t, m.IsEnabled(ctx, "other"))
	})

	t.Run("env provider overrides file", func(t *testing.T) {
		t.Setenv("FEATURE_ORDER_EVENT_RELAY", "1")
		m := NewManager(StaticProvider{}, EnvProvider{})
		assert.True(t, m.Gate(OrderEventRelay)(ctx))
	})

	t.Run("env provider accepts true in any case", func(t *testing.T) {
		t.Setenv("FEATURE_ORDER_EVENT_RELAY", "TRUE")
		assert.True(t, EnvProvider{}.IsEnabled(ctx, OrderEventRelay))
		t.Setenv("FEATURE_ORDER_EVENT_RELAY", "yes")
		assert.False(t, EnvProvider{}.IsEnabled(ctx, OrderEventRelay))
	})
}
