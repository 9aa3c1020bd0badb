package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret_key: "s3cret"
redis:
  host: "127.0.0.1"
  port: 6380
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWT.SecretKey)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "*/10 * * * *", cfg.Sweep.Cron)
	assert.Equal(t, 48*time.Hour, cfg.Sweep.MessageRetention)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 16, cfg.Settings.FontSize)
	assert.Equal(t, "en", cfg.Settings.Language)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SYNC_JWT_SECRET_KEY", "from-env")
	path := writeConfig(t, `
jwt:
  secret_key: "from-file"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.SecretKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad cron", "jwt:\n  secret_key: x\nsweep:\n  cron: \"not a cron\"\n"},
		{"missing secret", "sweep:\n  cron: \"0 * * * *\"\n"},
		{"firebase without project", "jwt:\n  secret_key: x\nfirebase:\n  enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, Name: "hudhud", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/hudhud?sslmode=disable", db.DSN())
}
