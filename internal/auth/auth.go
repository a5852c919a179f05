// ABOUTME: Authenticated-user boundary for cloud access.
// ABOUTME: Verifies HS256 session tokens and exposes the current user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned when no user is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid session token")

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims represents the payload extracted from a session token.
type Claims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// UserSource yields the id of the signed-in user. It returns
// ErrNotAuthenticated when nobody is signed in.
type UserSource interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// Parse validates a session token and returns its claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)

	out := &Claims{UserID: subject, Email: email}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// Sign issues an HS256 session token for userID. It is used by tests and
// the CLI's login helper.
func Sign(userID string, ttl time.Duration, cfg Config) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenSource resolves the current user from a stored session token.
// A context carrying claims (see WithClaims) takes precedence.
type TokenSource struct {
	token string
	cfg   Config
}

// NewTokenSource creates a TokenSource for token.
func NewTokenSource(token string, cfg Config) *TokenSource {
	return &TokenSource{token: token, cfg: cfg}
}

// CurrentUserID returns the token's subject.
func (s *TokenSource) CurrentUserID(ctx context.Context) (string, error) {
	if claims, ok := FromContext(ctx); ok && claims.UserID != "" {
		return claims.UserID, nil
	}
	claims, err := Parse(s.token, s.cfg)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// Static is a UserSource with a fixed user. The empty string means signed out.
type Static string

// CurrentUserID returns the fixed user id.
func (s Static) CurrentUserID(context.Context) (string, error) {
	if s == "" {
		return "", ErrNotAuthenticated
	}
	return string(s), nil
}

// OptionalUserID returns the current user id, or "" when signed out.
// Other errors, such as an expired token, are returned.
func OptionalUserID(ctx context.Context, src UserSource) (string, error) {
	if src == nil {
		return "", nil
	}
	id, err := src.CurrentUserID(ctx)
	if errors.Is(err, ErrNotAuthenticated) {
		return "", nil
	}
	return id, err
}
