package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	// RoleOwner may act only on accounts whose owner id equals the token subject.
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
)

func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleOperator
}

var ErrInvalidClaims = errors.New("invalid token claims")

type Claims struct {
	Subject string
	Role    Role
}

func (c *Claims) IsOperator() bool { return c.Role == RoleOperator }

// CanAccess reports whether the caller may act on an account owned by ownerID.
func (c *Claims) CanAccess(ownerID string) bool {
	return c.IsOperator() || c.Subject == ownerID
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func GenerateToken(subject string, role Role, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: %w", ErrInvalidClaims)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("ValidateToken: missing subject: %w", ErrInvalidClaims)
	}
	role := Role(tc.Role)
	if !role.IsValid() {
		return nil, fmt.Errorf("ValidateToken: role %q: %w", tc.Role, ErrInvalidClaims)
	}

	return &Claims{Subject: tc.Subject, Role: role}, nil
}
