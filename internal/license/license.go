// Package license answers whether an owner may use a gated feature. Only
// the access check lives here; how licenses are sold or renewed does not.
package license

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const FeatureCloudSync = "cloud_sync"

var ErrDenied = errors.New("license does not permit this feature")

type Checker interface {
	Allow(owner, feature string) error
}

// AllowAll is used when no license secret is configured.
type AllowAll struct{}

func (AllowAll) Allow(string, string) error { return nil }

type Claims struct {
	Features []string `json:"features"`
	jwt.RegisteredClaims
}

// TokenChecker verifies an HS256 license token issued for one owner.
type TokenChecker struct {
	secret []byte
	token  string
	now    func() time.Time
}

func NewTokenChecker(secret, token string) *TokenChecker {
	return &TokenChecker{secret: []byte(secret), token: token, now: time.Now}
}

func (c *TokenChecker) Allow(owner, feature string) error {
	if c.token == "" {
		return fmt.Errorf("%w: no license token", ErrDenied)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(c.token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDenied, err)
	}
	if claims.Subject != owner {
		return fmt.Errorf("%w: token issued to another owner", ErrDenied)
	}
	if !slices.Contains(claims.Features, feature) {
		return fmt.Errorf("%w: %s", ErrDenied, feature)
	}
	return nil
}

// Issue signs a token for owner valid for ttl.
func Issue(secret, owner string, ttl time.Duration, features ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Features: features,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
