package middleware

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// GRPCUnaryInterceptor applies the limiter to unary calls.
func (l *RateLimiter) GRPCUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	addr := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		addr = p.Addr.String()
	}

	ok, retry, lim := l.Allow(ctx, "grpc:"+principalKey(ctx, addr))
	if !ok {
		retryAfter := strconv.Itoa(int(retry.Seconds()))
		_ = grpc.SetHeader(ctx, metadata.Pairs(
			"x-retry-after", retryAfter,
			"x-ratelimit-limit", strconv.Itoa(lim.Rate),
		))
		return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %s seconds", retryAfter)
	}
	return handler(ctx, req)
}
