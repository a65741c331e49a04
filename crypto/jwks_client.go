package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("crypto: invalid token")
	ErrExpiredToken = errors.New("crypto: token expired")
)

type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}

type JWKSConfig struct {
	URL             string        `yaml:"url" envconfig:"AUTH_JWKS_URL"`
	Issuer          string        `yaml:"issuer" envconfig:"AUTH_ISSUER"`
	RefreshInterval time.Duration `yaml:"refresh_interval" envconfig:"AUTH_JWKS_REFRESH_INTERVAL"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" envconfig:"AUTH_JWKS_FETCH_TIMEOUT"`
}

func (c *JWKSConfig) SetDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
}

type jwks struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// CachingClient verifies RS256 tokens against a JWKS endpoint. Keys are refreshed
// in the background and on an unknown kid.
type CachingClient struct {
	cfg    JWKSConfig
	client *http.Client
	log    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*rsa.PublicKey

	stop chan struct{}
	once sync.Once
}

func NewJWKSCachingClient(ctx context.Context, cfg JWKSConfig, logger *slog.Logger) (*CachingClient, error) {
	cfg.SetDefaults()
	if cfg.URL == "" || cfg.Issuer == "" {
		return nil, errors.New("jwks client: URL and Issuer are mandatory")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &CachingClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		log:    logger.With("component", "jwks_client"),
		cache:  make(map[string]*rsa.PublicKey),
		stop:   make(chan struct{}),
	}

	if err := c.refreshKeys(ctx); err != nil {
		return nil, fmt.Errorf("jwks client: initial key fetch: %w", err)
	}

	go c.refreshLoop()
	return c, nil
}

func (c *CachingClient) refreshLoop() {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*c.cfg.FetchTimeout)
			if err := c.refreshKeys(ctx); err != nil {
				c.log.Error("jwks refresh failed, keeping previous keys", "error", err)
			}
			cancel()
		}
	}
}

// Close stops the background refresher.
func (c *CachingClient) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *CachingClient) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Use != "sig" || jwk.Kid == "" {
			c.log.Warn("skipping unusable jwk", "kid", jwk.Kid, "kty", jwk.Kty, "use", jwk.Use)
			continue
		}
		key, err := jwk.toRSAPublicKey()
		if err != nil {
			c.log.Error("failed to convert jwk", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = key
	}
	if len(keys) == 0 {
		return errors.New("jwks response contains no usable RSA signing keys")
	}

	c.mu.Lock()
	c.cache = keys
	c.mu.Unlock()
	return nil
}

func (j *jsonWebKey) toRSAPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus (n): %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent (e): %w", err)
	}
	if len(eBytes) == 0 {
		return nil, errors.New("invalid exponent (e): empty")
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent (e): zero")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func (c *CachingClient) key(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.cache[kid]
	return k, ok
}

func (c *CachingClient) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidToken)
	}

	key, ok := c.key(kid)
	if !ok {
		c.log.WarnContext(ctx, "unknown kid, refreshing keys", "kid", kid)
		if err := c.refreshKeys(ctx); err != nil {
			c.log.ErrorContext(ctx, "immediate key refresh failed", "error", err)
			return nil, ErrInvalidToken
		}
		if key, ok = c.key(kid); !ok {
			return nil, ErrInvalidToken
		}
	}
	return c.verifyWithKey(token, key)
}

func (c *CachingClient) verifyWithKey(token string, key *rsa.PublicKey) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	},
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := parsed.Claims.(*Claims); ok && parsed.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
