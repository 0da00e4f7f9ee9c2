package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by identity-service. TenantID scopes
// every request made with the token.
type Claims struct {
	Sub      string `json:"sub"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type token struct {
	header   Header
	unsigned string
	payload  []byte
	sig      string
}

func split(raw string) (token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return token{}, ErrInvalidToken
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return token{}, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return token{}, ErrInvalidToken
	}
	var h Header
	if err := json.Unmarshal(headerRaw, &h); err != nil {
		return token{}, ErrInvalidToken
	}
	return token{header: h, unsigned: parts[0] + "." + parts[1], payload: payload, sig: parts[2]}, nil
}

func (t token) claims(now time.Time) (*Claims, error) {
	var claims Claims
	if err := json.Unmarshal(t.payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Exp > 0 && now.Unix() > claims.Exp {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func ParseHeader(raw string) (*Header, error) {
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	return &t.header, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return unsigned + "." + hmacSHA256(unsigned, secret), nil
}

func ParseAndVerifyHS256(raw, secret string) (*Claims, error) {
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(t.sig), []byte(hmacSHA256(t.unsigned, secret))) {
		return nil, ErrInvalidToken
	}
	return t.claims(time.Now())
}

func VerifyRS256(raw string, pubKey crypto.PublicKey) (*Claims, error) {
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(t.sig)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(t.unsigned))
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, hash[:], sig); err != nil {
		return nil, ErrInvalidToken
	}
	return t.claims(time.Now())
}

func hmacSHA256(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verifier checks tokens signed either with the shared HS256 secret or with an
// RS256 key published on the JWKS endpoint. Either source may be absent.
type Verifier struct {
	secret string
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	return &Verifier{secret: secret, jwks: jwks}
}

func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	switch h.Alg {
	case "HS256":
		if v.secret == "" {
			return nil, ErrInvalidToken
		}
		return ParseAndVerifyHS256(raw, v.secret)
	case "RS256":
		if v.jwks == nil || h.Kid == "" {
			return nil, ErrInvalidToken
		}
		key, err := v.jwks.Get(ctx, h.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(raw, key)
	default:
		return nil, ErrInvalidToken
	}
}
