package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer(nil, time.Hour)
	require.Error(t, err)

	issuer, err := NewTokenIssuer(testSecret, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTokenTTL, issuer.TTL())
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, DefaultTokenTTL)
	require.NoError(t, err)

	userID := uuid.New()
	token, err := issuer.IssueToken(userID)
	require.NoError(t, err)

	got, err := issuer.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, userID, got)

	claims := &jwt.RegisteredClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	require.Equal(t, Issuer, claims.Issuer)
	require.Equal(t, DefaultTokenTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestTokenIssuer_VerifyFailures(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := NewTokenIssuer([]byte("another-secret-another-secret-xx"), time.Hour)
	require.NoError(t, err)

	userID := uuid.New()
	now := time.Now()

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	validClaims := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
	}

	foreign, err := other.IssueToken(userID)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not.a.token"},
		{name: "empty", token: ""},
		{name: "wrong secret", token: foreign},
		{
			name: "expired",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
				return sign(jwt.SigningMethodHS256, testSecret, c)
			}(),
		},
		{
			name: "no expiry",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = nil
				return sign(jwt.SigningMethodHS256, testSecret, c)
			}(),
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims()
				c.Issuer = "someone-else"
				return sign(jwt.SigningMethodHS256, testSecret, c)
			}(),
		},
		{
			name: "subject not a uuid",
			token: func() string {
				c := validClaims()
				c.Subject = "42"
				return sign(jwt.SigningMethodHS256, testSecret, c)
			}(),
		},
		{
			name:  "other hmac algorithm",
			token: sign(jwt.SigningMethodHS512, testSecret, validClaims()),
		},
		{
			name:  "unsigned",
			token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.VerifyToken(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenIssuer_ExpiresAfterTTL(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	base := time.Now()
	issuer.now = func() time.Time { return base }
	token, err := issuer.IssueToken(uuid.New())
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(59 * time.Minute) }
	_, err = issuer.VerifyToken(token)
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(61 * time.Minute) }
	_, err = issuer.VerifyToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
