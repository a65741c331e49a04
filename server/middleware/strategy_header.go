package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/godamri/helix-activity/pkg/contextx"
)

// TrustedHeaderStrategy accepts identity headers set by the API gateway, but only from
// connections originating in the trusted proxy ranges.
type TrustedHeaderStrategy struct {
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger

	headerUserID string
	headerRoles  string
	headerEmail  string
}

type TrustedHeaderConfig struct {
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"AUTH_TRUSTED_PROXIES"`
	HeaderUserID   string   `yaml:"header_user_id" envconfig:"AUTH_HEADER_USER_ID"`
	HeaderRoles    string   `yaml:"header_roles" envconfig:"AUTH_HEADER_ROLES"` // comma separated
	HeaderEmail    string   `yaml:"header_email" envconfig:"AUTH_HEADER_EMAIL"`
}

func (c *TrustedHeaderConfig) SetDefaults() {
	c.HeaderUserID = "X-User-Id"
	c.HeaderRoles = "X-User-Roles"
	c.HeaderEmail = "X-User-Email"
}

func NewTrustedHeaderStrategy(cfg TrustedHeaderConfig, logger *slog.Logger) (*TrustedHeaderStrategy, error) {
	if len(cfg.TrustedProxies) == 0 {
		return nil, errors.New("trusted header auth: trusted_proxies cannot be empty")
	}

	cidrs := make([]*net.IPNet, 0, len(cfg.TrustedProxies))
	for _, raw := range cfg.TrustedProxies {
		cidr := strings.TrimSpace(raw)
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("trusted header auth: invalid proxy %q", raw)
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted header auth: invalid cidr %q: %w", raw, err)
		}
		cidrs = append(cidrs, ipNet)
	}

	defaults := TrustedHeaderConfig{}
	defaults.SetDefaults()
	if cfg.HeaderUserID == "" {
		cfg.HeaderUserID = defaults.HeaderUserID
	}
	if cfg.HeaderRoles == "" {
		cfg.HeaderRoles = defaults.HeaderRoles
	}
	if cfg.HeaderEmail == "" {
		cfg.HeaderEmail = defaults.HeaderEmail
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TrustedHeaderStrategy{
		trustedCIDRs: cidrs,
		logger:       logger.With("component", "auth_header"),
		headerUserID: cfg.HeaderUserID,
		headerRoles:  cfg.HeaderRoles,
		headerEmail:  cfg.HeaderEmail,
	}, nil
}

func (s *TrustedHeaderStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	host, _, err := net.SplitHostPort(payload.RemoteAddr)
	if err != nil {
		host = payload.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.New("invalid remote ip")
	}
	if !s.trusted(ip) {
		s.logger.WarnContext(ctx, "identity headers from untrusted source rejected",
			"ip", host,
			"path", payload.Path,
		)
		return nil, errors.New("untrusted source")
	}

	userID := payload.GetHeader(s.headerUserID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	roles := []string{}
	for _, role := range strings.Split(payload.GetHeader(s.headerRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	ctx = contextx.WithAuthPrincipalID(ctx, userID)
	ctx = contextx.WithAuthPrincipalEmail(ctx, payload.GetHeader(s.headerEmail))
	ctx = contextx.WithAuthRoles(ctx, roles)
	return ctx, nil
}

func (s *TrustedHeaderStrategy) trusted(ip net.IP) bool {
	for _, cidr := range s.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
