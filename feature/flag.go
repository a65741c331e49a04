// Package feature gates optional behavior behind named flags.
package feature

import (
	"context"
	"os"
	"strings"
)

const OrderEventRelay = "order-event-relay"

// Provider defines how flags are resolved.
type Provider interface {
	IsEnabled(ctx context.Context, key string) bool
}

type Manager struct {
	providers []Provider
}

// NewManager consults providers in order; the first one that enables a flag wins.
// With no providers every flag is off.
func NewManager(providers ...Provider) *Manager {
	return &Manager{providers: providers}
}

func (m *Manager) IsEnabled(ctx context.Context, key string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.providers {
		if p.IsEnabled(ctx, key) {
			return true
		}
	}
	return false
}

// Gate returns a predicate bound to key, for components that only know one flag.
func (m *Manager) Gate(key string) func(context.Context) bool {
	return func(ctx context.Context) bool { return m.IsEnabled(ctx, key) }
}

// EnvProvider reads FEATURE_<KEY>=true, with dashes in key mapped to underscores.
type EnvProvider struct{}

func (EnvProvider) IsEnabled(_ context.Context, key string) bool {
	envKey := "FEATURE_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	val := os.Getenv(envKey)
	return strings.EqualFold(val, "true") || val == "1"
}

// StaticProvider serves flags from the config file.
type StaticProvider map[string]bool

func (p StaticProvider) IsEnabled(_ context.Context, key string) bool {
	return p[key]
}
