package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by access checks and quota tiers.
const (
	RoleAdmin        = "ADMIN"
	RoleSocialWorker = "SOCIAL_WORKER"
	RoleClient       = "CLIENT"
)

// ErrInvalidToken is returned for any token that fails parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the identity contained in a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// Principal is the caller identity derived from verified claims.
type Principal struct {
	UserID  string
	Role    string
	IsAdmin bool
}

// Admin reports whether the principal may use admin-only routes.
func (p Principal) Admin() bool {
	return p.IsAdmin || strings.EqualFold(p.Role, RoleAdmin)
}

// Manager signs and verifies HS256 tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a token manager. An empty issuer disables the issuer check.
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign issues a token for the principal.
func (m *Manager) Sign(p Principal) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Role:    strings.ToUpper(p.Role),
		IsAdmin: p.IsAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns the principal it names.
func (m *Manager) Verify(token string) (Principal, error) {
	if strings.TrimSpace(token) == "" || len(m.secret) == 0 {
		return Principal{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Principal{
		UserID:  claims.Subject,
		Role:    strings.ToUpper(strings.TrimSpace(claims.Role)),
		IsAdmin: claims.IsAdmin,
	}, nil
}
