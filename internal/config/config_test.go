package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setServerEnv(t *testing.T) {
	t.Setenv("DB_STRING", "postgresql://user:pw@localhost:5432/cp?sslmode=disable")
	t.Setenv("AWS_S3_BUCKET", "documents")
	t.Setenv("DOCUMENT_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
}

func TestLoadServer_Defaults(t *testing.T) {
	setServerEnv(t)

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, 15*time.Minute, cfg.PresignTTL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoadServer_Overrides(t *testing.T) {
	setServerEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadServer_MissingDSN(t *testing.T) {
	setServerEnv(t)
	t.Setenv("DB_STRING", "")

	_, err := LoadServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_STRING")
}

func TestLoadServer_ShortEncryptionKey(t *testing.T) {
	setServerEnv(t)
	t.Setenv("DOCUMENT_ENCRYPTION_KEY", "abcd")

	_, err := LoadServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCUMENT_ENCRYPTION_KEY")
}

func TestLoadFieldSync_Defaults(t *testing.T) {
	cfg, err := LoadFieldSync()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, "fieldsync.db", cfg.QueuePath)
	assert.Equal(t, 5.0, cfg.RatePerSecond)
	assert.True(t, cfg.BreakerEnabled)
}

func TestLoadFieldSync_InvalidRate(t *testing.T) {
	t.Setenv("FIELDSYNC_RATE", "0")

	_, err := LoadFieldSync()
	require.Error(t, err)
}
