package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

var ErrKeyNotFound = errors.New("jwks key not found")

// JWK is one RSA public key as published by identity-service.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type KeySet struct {
	Keys []JWK `json:"keys"`
}

// JWKSClient caches the issuer's signing keys. Concurrent misses share one
// fetch, and a stale cache keeps serving known kids while the issuer is down.
type JWKSClient struct {
	url  string
	ttl  time.Duration
	http *http.Client
	sf   singleflight.Group

	mu      sync.RWMutex
	expires time.Time
	keys    map[string]*rsa.PublicKey
}

func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSClient{
		url: url,
		ttl: ttl,
		http: &http.Client{
			Timeout:   3 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		keys: map[string]*rsa.PublicKey{},
	}
}

func (c *JWKSClient) lookup(keyID string) (key *rsa.PublicKey, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[keyID], time.Now().Before(c.expires)
}

func (c *JWKSClient) Get(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if key, fresh := c.lookup(keyID); key != nil && fresh {
		return key, nil
	}

	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	key, _ := c.lookup(keyID)
	switch {
	case key != nil:
		return key, nil
	case err != nil:
		return nil, err
	default:
		return nil, ErrKeyNotFound
	}
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var set KeySet
	if err := sonic.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if pub, err := k.PublicKey(); err == nil {
			keys[k.Kid] = pub
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.expires = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// PublicKey decodes the base64url modulus and exponent.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("jwk: missing modulus or exponent")
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > int64(^uint32(0)>>1) || exp.Int64() < 3 {
		return nil, errors.New("jwk: invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
