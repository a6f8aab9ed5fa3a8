package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-session/internal/models"
)

var (
	ErrMissing      = errors.New("credential: no access token")
	ErrInvalidToken = errors.New("credential: invalid token")
)

// Claims carried by an access token. Subject is the user name.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Store holds the current access token. How the token is obtained or
// refreshed is up to the caller.
type Store struct {
	mu    sync.RWMutex
	token string
}

func NewStore(token string) *Store { return &Store{token: normalize(token)} }

// Set replaces the token. A leading "Bearer " is stripped; callers add the
// scheme when they build the header.
func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = normalize(token)
	s.mu.Unlock()
}

func normalize(token string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(token, " \t"), "Bearer "))
}

func (s *Store) Clear() { s.Set("") }

// Token returns the stored token or ErrMissing.
func (s *Store) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrMissing
	}
	return s.token, nil
}

// IdentityFromToken reads the name and role from a token without checking
// its signature; the server is the one that verifies it.
func IdentityFromToken(token string) (models.Identity, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.identity()
}

func (c *Claims) identity() (models.Identity, error) {
	if c.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !c.Role.Valid() {
		return models.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return models.Identity{Name: c.Subject, Role: c.Role}, nil
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, issuer: "ride-session"}
}

func (s *Signer) Issue(id models.Identity) (string, error) {
	if id.Name == "" || !id.Role.Valid() {
		return "", fmt.Errorf("%w: identity %+v", ErrInvalidToken, id)
	}
	now := time.Now()
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and expiry and returns the identity. A
// "Bearer " prefix is accepted.
func (s *Signer) Verify(token string) (models.Identity, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.identity()
}
