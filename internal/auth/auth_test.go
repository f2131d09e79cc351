package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correcthorse")
	require.NoError(t, err)
	assert.NotEqual(t, "correcthorse", hash)
	assert.Equal(t, "$2a$", hash[:4])

	assert.True(t, CheckPassword("correcthorse", hash))
	assert.False(t, CheckPassword("batterystaple", hash))
	assert.False(t, CheckPassword("", hash))
}

func TestCheckPasswordWithMigrationHash(t *testing.T) {
	// Matches the bootstrap admin row seeded by the migration.
	migrationHash := "$2a$10$uejoNCSLZ9YkKOZriLlSGeg0pm/nuGVS3nRuSPyYuk/Z7HJHKBhGO"

	assert.True(t, CheckPassword("changeme", migrationHash))
	assert.False(t, CheckPassword("admin", migrationHash))
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := Config{Secret: "test-secret", TokenTTL: time.Hour}

	token, err := GenerateToken(cfg, "admin-id-1", "admin")
	require.NoError(t, err)

	claims, err := ValidateToken(cfg.Secret, token)
	require.NoError(t, err)
	assert.Equal(t, "admin-id-1", claims.AdminID)
	assert.Equal(t, "admin", claims.Username)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	cfg := Config{Secret: "test-secret", TokenTTL: time.Hour}

	token, err := GenerateToken(cfg, "admin-id-1", "admin")
	require.NoError(t, err)

	_, err = ValidateToken("other-secret", token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	cfg := Config{Secret: "test-secret", TokenTTL: -time.Minute}

	token, err := GenerateToken(cfg, "admin-id-1", "admin")
	require.NoError(t, err)

	_, err = ValidateToken(cfg.Secret, token)
	assert.Error(t, err)
}
