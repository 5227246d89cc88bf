package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/config"
)

func TestTokenCommandSignsVerifiableToken(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("AUTH_JWT_ISSUER", "")
	t.Setenv("AUTH_JWT_AUDIENCE", "authenticated")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "t1", "--role", "teacher"})
	require.NoError(t, root.Execute())

	verifier := service.NewAuthService(config.AuthConfig{JWTSecret: "cli-secret", Audience: "authenticated"})
	claims, err := verifier.ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	t.Setenv("ENV", "development")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--user", "t1", "--role", "parent"})
	assert.Error(t, root.Execute())
}

func TestTokenCommandDisabledInProduction(t *testing.T) {
	t.Setenv("ENV", "production")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--user", "t1"})
	assert.Error(t, root.Execute())
}
