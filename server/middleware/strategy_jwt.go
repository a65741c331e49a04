package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/godamri/helix-activity/crypto"
	"github.com/godamri/helix-activity/pkg/contextx"
)

// JWTStrategy authenticates bearer tokens through a crypto.Verifier.
type JWTStrategy struct {
	verifier crypto.Verifier
	logger   *slog.Logger
}

func NewJWTStrategy(verifier crypto.Verifier, logger *slog.Logger) *JWTStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTStrategy{
		verifier: verifier,
		logger:   logger.With("component", "auth_jwt"),
	}
}

func (s *JWTStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	header := payload.GetHeader("Authorization")
	if header == "" {
		return nil, ErrUnauthenticated
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, errors.New("invalid authorization header format")
	}

	claims, err := s.verifier.VerifyToken(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "jwt verification failed", "error", err, "ip", payload.RemoteAddr)
		if errors.Is(err, crypto.ErrExpiredToken) {
			return nil, errors.New("token expired")
		}
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	ctx = contextx.WithAuthPrincipalID(ctx, claims.Subject)
	ctx = contextx.WithAuthPrincipalEmail(ctx, claims.Email)
	ctx = contextx.WithAuthRoles(ctx, claims.GetRoles())
	if claims.SessionID != "" {
		ctx = contextx.WithAuthSessionID(ctx, claims.SessionID)
	}
	return ctx, nil
}
