package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("provider-42", RoleOwner, testSecret, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "provider-42", claims.Subject)
	assert.Equal(t, RoleOwner, claims.Role)
	assert.False(t, claims.IsOperator())
	assert.True(t, claims.CanAccess("provider-42"))
	assert.False(t, claims.CanAccess("provider-43"))

	opToken, err := GenerateToken("ops", RoleOperator, testSecret, time.Hour)
	require.NoError(t, err)
	op, err := ValidateToken(opToken, testSecret)
	require.NoError(t, err)
	assert.True(t, op.CanAccess("provider-43"))
}

func TestValidateToken(t *testing.T) {
	validToken, err := GenerateToken("owner-1", RoleOwner, testSecret, 24*time.Hour)
	require.NoError(t, err)

	expiredToken, err := GenerateToken("owner-1", RoleOwner, testSecret, -1*time.Hour)
	require.NoError(t, err)

	badRole, err := GenerateToken("owner-1", Role("admin"), testSecret, time.Hour)
	require.NoError(t, err)

	noSubject, err := GenerateToken("", RoleOwner, testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		secret    string
		wantErrIs error
	}{
		{
			name:      "expired token",
			token:     expiredToken,
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenExpired,
		},
		{
			name:      "wrong secret",
			token:     validToken,
			secret:    "wrong-secret",
			wantErrIs: jwt.ErrTokenSignatureInvalid,
		},
		{
			name:      "malformed token",
			token:     "not.a.valid.jwt",
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenMalformed,
		},
		{
			name:      "empty token",
			token:     "",
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenMalformed,
		},
		{
			name:      "unknown role",
			token:     badRole,
			secret:    testSecret,
			wantErrIs: ErrInvalidClaims,
		},
		{
			name:      "missing subject",
			token:     noSubject,
			secret:    testSecret,
			wantErrIs: ErrInvalidClaims,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateToken(tc.token, tc.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErrIs)
		})
	}
}

func TestValidateToken_RejectsNonHMAC(t *testing.T) {
	// Algorithm confusion: a token signed with "none" should be rejected
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "owner-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: string(RoleOperator),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(signed, testSecret)
	require.Error(t, err)
}
