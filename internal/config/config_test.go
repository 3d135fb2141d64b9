package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Equal(t, int64(50*1024*1024), cfg.GetPartSizeBytes())
	assert.Equal(t, int64(5120*1024*1024), cfg.GetMaxUploadBytes())
	assert.Equal(t, 24*time.Hour, cfg.GetSessionTTL())
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, ".cloudchest-state", cfg.StateDir)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PART_SIZE_MB", "8")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "100")
	t.Setenv("SESSION_TTL_HOURS", "2")
	t.Setenv("SERVER_URL", "https://uploads.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(8*1024*1024), cfg.GetPartSizeBytes())
	assert.Equal(t, int64(100*1024*1024), cfg.GetMaxUploadBytes())
	assert.Equal(t, 2*time.Hour, cfg.GetSessionTTL())
	assert.Equal(t, "https://uploads.example.com", cfg.ServerURL)
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{
		MySQLUser:     "app",
		MySQLPassword: "secret",
		MySQLHost:     "db",
		MySQLPort:     "3306",
		MySQLDatabase: "cloudchest",
	}
	assert.Equal(t, "app:secret@tcp(db:3306)/cloudchest?charset=utf8mb4&parseTime=True&loc=Local", cfg.GetDSN())
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("PART_SIZE_MB", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PartSizeMB)
}
