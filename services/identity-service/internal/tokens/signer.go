// Package tokens issues the access tokens that scope requests to a tenant.
package tokens

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"time"

	"github.com/bytedance/sonic"
	"github.com/md-rashed-zaman/schoolsync/libs/auth"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

const DefaultTTL = time.Hour

type Signer interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// JWKS is empty for symmetric signers.
	JWKS() []auth.JWK
}

// Issue signs a token for userID acting within tenantID.
func Issue(s Signer, userID string, tenantID tenant.ID, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return s.Sign(auth.Claims{
		Sub:      userID,
		TenantID: tenantID.String(),
		Role:     role,
		Iat:      now.Unix(),
		Exp:      now.Add(ttl).Unix(),
	})
}

// AsVerifier lets the issuing service resolve tenants from its own tokens
// without a round trip to its JWKS endpoint.
func AsVerifier(s Signer) tenant.TokenVerifier { return signerVerifier{s} }

type signerVerifier struct{ s Signer }

func (v signerVerifier) Verify(_ context.Context, raw string) (*auth.Claims, error) {
	return v.s.Verify(raw)
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) Signer {
	return &hs256Signer{secret: secret}
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() []auth.JWK { return nil }

type rs256Signer struct {
	key *rsa.PrivateKey
	kid string
	jwk auth.JWK
}

// NewRS256Signer reads a PKCS1 or PKCS8 RSA key. An empty kid is derived
// from the public modulus.
func NewRS256Signer(pemBytes []byte, kid string) (Signer, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		sum := sha256.Sum256(key.PublicKey.N.Bytes())
		kid = base64.RawURLEncoding.EncodeToString(sum[:8])
	}
	return &rs256Signer{key: key, kid: kid, jwk: publicJWK(&key.PublicKey, kid)}, nil
}

func (s *rs256Signer) Sign(claims auth.Claims) (string, error) {
	header, err := sonic.ConfigStd.Marshal(auth.Header{Alg: "RS256", Typ: "JWT", Kid: s.kid})
	if err != nil {
		return "", err
	}
	payload, err := sonic.ConfigStd.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	hash := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func (s *rs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.VerifyRS256(token, &s.key.PublicKey)
}

func (s *rs256Signer) JWKS() []auth.JWK {
	return []auth.JWK{s.jwk}
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}

func publicJWK(pub *rsa.PublicKey, kid string) auth.JWK {
	return auth.JWK{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
