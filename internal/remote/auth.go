package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/till/internal/clock"
)

// Claims identify the tenant a request acts for.
type Claims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// Signer issues short-lived HS256 bearer tokens for the remote.
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewSigner returns a signer using secret. ttl <= 0 defaults to five minutes.
func NewSigner(secret string, ttl time.Duration, clk clock.Clock) *Signer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Token signs a token for tenant.
func (s *Signer) Token(tenant string) (string, error) {
	now := s.clock.Now()
	claims := &Claims{
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "till",
			Subject:   tenant,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token signed with secret and returns its
// claims.
func Verify(secret, token string, now time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("verify token: invalid claims")
	}
	return claims, nil
}
