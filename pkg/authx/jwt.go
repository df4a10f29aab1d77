// Package authx issues and checks the HS256 bearer tokens that guard the
// queue API and the websocket endpoint.
package authx

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes understood by the server.
const (
	ScopeJobsRead   = "jobs:read"
	ScopeJobsCancel = "jobs:cancel"
	ScopeEvents     = "events:subscribe"
)

const audience = "jobrelay-api"

// Claims is what a validated token carries.
type Claims struct {
	Subject   string    `json:"sub"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type jwtClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// TokenService signs and validates tokens with a shared secret.
type TokenService struct {
	secretKey []byte
	ttl       time.Duration
	issuer    string
	now       func() time.Time
}

// NewTokenService creates a token service. A zero ttl means 1h.
func NewTokenService(secretKey string, ttl time.Duration, issuer string) *TokenService {
	if ttl == 0 {
		ttl = time.Hour
	}
	if issuer == "" {
		issuer = "jobrelay"
	}
	return &TokenService{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		issuer:    issuer,
		now:       time.Now,
	}
}

// Issue signs a token for subject with the given scopes.
func (s *TokenService) Issue(subject string, scopes ...string) (string, error) {
	if len(s.secretKey) == 0 {
		return "", authxErrors.New(ErrSecretNotDefined)
	}
	if scopes == nil {
		scopes = []string{}
	}
	now := s.now()
	claims := jwtClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", authxErrors.NewWithCause(ErrTokenGeneration, err)
	}
	return signed, nil
}

// Validate parses and checks a token.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, authxErrors.NewWithCause(ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, authxErrors.New(ErrInvalidToken).WithDetail("reason", "invalid claims")
	}

	return &Claims{
		Subject:   c.Subject,
		Scopes:    c.Scopes,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
