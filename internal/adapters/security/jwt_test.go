package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc, err := NewTokenService("0123456789abcdef-secret", "wawa", "orders-api")
	require.NoError(t, err)

	raw, err := svc.Issue("user-1", "customer", time.Hour)
	require.NoError(t, err)
	claims, err := svc.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.SubjectID)
	assert.Equal(t, "customer", claims.Role)
	assert.NotEmpty(t, claims.TokenID)
}

func TestTokenServiceRejectsBadTokens(t *testing.T) {
	svc, err := NewTokenService("0123456789abcdef-secret", "wawa", "orders-api")
	require.NoError(t, err)

	expired, err := svc.Issue("user-1", "staff", -time.Hour)
	require.NoError(t, err)
	_, err = svc.Verify(expired)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	other, err := NewTokenService("another-secret-of-length", "wawa", "orders-api")
	require.NoError(t, err)
	forged, err := other.Issue("user-1", "admin", time.Hour)
	require.NoError(t, err)
	_, err = svc.Verify(forged)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	wrongAudience, err := NewTokenService("0123456789abcdef-secret", "wawa", "kitchen")
	require.NoError(t, err)
	raw, err := wrongAudience.Issue("user-1", "staff", time.Hour)
	require.NoError(t, err)
	_, err = svc.Verify(raw)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1", "role": "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	require.Error(t, err)

	_, err = NewTokenService("short", "", "")
	require.Error(t, err)
}
