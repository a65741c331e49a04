package contextx

import (
	"context"
	"slices"
)

type contextKey string

const (
	AuthPrincipalIDKey    contextKey = "helix.auth_principal_id"
	AuthPrincipalEmailKey contextKey = "helix.auth_principal_email"
	AuthPrincipalRolesKey contextKey = "helix.auth_principal_roles"
	AuthSessionIDKey      contextKey = "helix.auth_session_id"

	TraceIDKey    contextKey = "helix.trace_id"
	RequestIDKey  contextKey = "helix.request_id"
	EntryPointKey contextKey = "helix.entry_point" // http | grpc | bus | consumer

	IdempotencyKey contextKey = "helix.idempotency_key"
)

// RoleAdmin grants the cross-user activity view and administrative audit writes.
const RoleAdmin = "admin"

func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey, "untriaged") }
func WithTraceID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TraceIDKey, v)
}

func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey, "") }
func WithRequestID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, RequestIDKey, v)
}

func GetEntryPoint(ctx context.Context) string { return getString(ctx, EntryPointKey, "unknown") }
func WithEntryPoint(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, EntryPointKey, v)
}

func GetAuthPrincipalID(ctx context.Context) string { return getString(ctx, AuthPrincipalIDKey, "") }
func WithAuthPrincipalID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthPrincipalIDKey, v)
}

func GetAuthPrincipalEmail(ctx context.Context) string {
	return getString(ctx, AuthPrincipalEmailKey, "")
}
func WithAuthPrincipalEmail(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthPrincipalEmailKey, v)
}

func GetAuthRoles(ctx context.Context) []string { return getStringSlice(ctx, AuthPrincipalRolesKey) }
func WithAuthRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, AuthPrincipalRolesKey, roles)
}

// HasRole reports whether the authenticated principal carries role.
func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(GetAuthRoles(ctx), role)
}

// IsAdmin is HasRole(ctx, RoleAdmin).
func IsAdmin(ctx context.Context) bool { return HasRole(ctx, RoleAdmin) }

func GetAuthSessionID(ctx context.Context) string { return getString(ctx, AuthSessionIDKey, "") }
func WithAuthSessionID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthSessionIDKey, v)
}

func GetIdempotencyKey(ctx context.Context) string { return getString(ctx, IdempotencyKey, "") }
func WithIdempotencyKey(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, IdempotencyKey, v)
}

func getString(ctx context.Context, key contextKey, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if val, ok := ctx.Value(key).(string); ok {
		return val
	}
	return fallback
}

func getStringSlice(ctx context.Context, key contextKey) []string {
	if ctx == nil {
		return nil
	}
	if val, ok := ctx.Value(key).([]string); ok {
		return val
	}
	return nil
}
