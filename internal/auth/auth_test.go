package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken_CarriesCredentialPermissions(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("reporter-key", "reporter-secret", PermissionReports)

	token, err := service.GenerateToken(Credentials{APIKey: "reporter-key", APISecret: "reporter-secret"})
	require.NoError(t, err)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "reporter-key", claims.ClientID)
	assert.Equal(t, []string{PermissionReports}, claims.Permissions)
}

func TestGenerateToken_DefaultPermissions(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := service.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, DefaultPermissions, claims.Permissions)
	assert.NotContains(t, claims.Permissions, PermissionInternal)
}

func TestGenerateToken_InvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := service.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.GenerateToken(Credentials{APIKey: "unknown", APISecret: TestAPISecret})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewService("issuer-secret")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := issuer.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)

	verifier := NewService("other-secret")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
