// Package auth authenticates requests and checks permissions.
// Bearer tokens are stateless JWTs; API keys are bcrypt hashed in the
// configuration. Either way the request gains a module.User.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/modhost/core/module"
	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim of every modhost token.
const TokenIssuer = "modhost"

// DefaultTokenTTL applies when no lifetime is configured.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrTokenExpired is returned for a well-signed token past its exp claim.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid covers bad signatures, foreign issuers and garbage.
	ErrTokenInvalid = errors.New("token invalid")
)

// userClaims carries a module.User inside a token. The user id doubles
// as the sub claim.
type userClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens for module users.
// Safe for concurrent use.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service. An empty secret gets a random one,
// so tokens only verify within this process.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: key, ttl: ttl, now: time.Now}
}

// WithClock returns a copy of t reading time from now.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	cp := *t
	cp.now = now
	return &cp
}

// Issue signs a token for u and reports when it expires.
func (t *Tokens) Issue(u module.User) (string, time.Time, error) {
	if u.ID == "" {
		return "", time.Time{}, errors.New("issue token: user id is required")
	}

	issued := t.now().UTC().Truncate(time.Second)
	expires := issued.Add(t.ttl)
	claims := userClaims{
		Name: u.Name,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks a token and returns the user it was issued for. Errors
// wrap ErrTokenExpired or ErrTokenInvalid.
func (t *Tokens) Verify(raw string) (*module.User, error) {
	var claims userClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &module.User{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// Refresh verifies raw and issues a fresh token for the same user.
func (t *Tokens) Refresh(raw string) (string, time.Time, error) {
	u, err := t.Verify(raw)
	if err != nil {
		return "", time.Time{}, err
	}
	return t.Issue(*u)
}
