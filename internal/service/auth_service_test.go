package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/pkg/config"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

func testAuthService() *AuthService {
	return NewAuthService(config.AuthConfig{JWTSecret: "secret", Issuer: "auth-backend", Audience: "authenticated"})
}

func TestAuthServiceRoundTrip(t *testing.T) {
	svc := testAuthService()
	token, err := svc.IssueToken("school-1", models.RoleSchool, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "school-1", claims.UserID)
	assert.Equal(t, models.RoleSchool, claims.Role)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := testAuthService()
	svc.clock = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.IssueToken("t1", models.RoleTeacher, time.Hour)
	require.NoError(t, err)

	svc.clock = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRejectsWrongIssuer(t *testing.T) {
	other := NewAuthService(config.AuthConfig{JWTSecret: "secret", Issuer: "someone-else", Audience: "authenticated"})
	token, err := other.IssueToken("t1", models.RoleTeacher, time.Hour)
	require.NoError(t, err)

	_, err = testAuthService().ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRejectsUnknownRole(t *testing.T) {
	claims := models.JWTClaims{
		UserID: "u1",
		Role:   "PARENT",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auth-backend",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = testAuthService().ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceFallsBackToSubject(t *testing.T) {
	claims := models.JWTClaims{
		Role: models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "t9",
			Issuer:    "auth-backend",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	parsed, err := testAuthService().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "t9", parsed.UserID)
}

func TestAuthServiceRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, models.JWTClaims{UserID: "u", Role: models.RoleAdmin}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = testAuthService().ValidateToken(token)
	assert.Error(t, err)
}
