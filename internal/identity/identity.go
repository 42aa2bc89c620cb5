package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "dealerdesk"
	secretEnvVariable = "DEALERDESK_AUTH_SECRET"
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated principal. The global role is the coarse
// platform tier captured at issue time; per-tenant roles are never embedded in
// tokens, they are read from the catalog at resolution time.
type Claims struct {
	Email      string `json:"email"`
	GlobalRole string `json:"global_role"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 JWT for the principal.
func GenerateToken(principalID, email, globalRole string, ttl time.Duration) (string, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", errors.New("principalID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Email:      strings.TrimSpace(strings.ToLower(email)),
		GlobalRole: strings.TrimSpace(strings.ToLower(globalRole)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	claims.Email = strings.TrimSpace(strings.ToLower(claims.Email))
	claims.GlobalRole = strings.TrimSpace(strings.ToLower(claims.GlobalRole))
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}

type ctxKey string

const (
	principalIDKey ctxKey = "identity_principal_id"
	emailKey       ctxKey = "identity_email"
	globalRoleKey  ctxKey = "identity_global_role"
)

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, principalID, email, globalRole string) context.Context {
	ctx = context.WithValue(ctx, principalIDKey, strings.TrimSpace(principalID))
	ctx = context.WithValue(ctx, emailKey, strings.TrimSpace(strings.ToLower(email)))
	ctx = context.WithValue(ctx, globalRoleKey, strings.TrimSpace(strings.ToLower(globalRole)))
	return ctx
}

// PrincipalIDFromContext extracts the authenticated principal id.
func PrincipalIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// EmailFromContext returns the verified email carried by the session.
func EmailFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(emailKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// GlobalRoleFromContext returns the coarse platform role from the session.
func GlobalRoleFromContext(ctx context.Context) string {
	v, ok := ctx.Value(globalRoleKey).(string)
	if !ok {
		return ""
	}
	return v
}

// IsGlobalAdmin reports whether the session carries the top-level tier.
func IsGlobalAdmin(ctx context.Context) bool {
	return GlobalRoleFromContext(ctx) == "admin"
}
