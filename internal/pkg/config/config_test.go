package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/mp?sslmode=disable")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CREDENTIAL_KEY", testKey)
	t.Setenv("TIMEZONE", "UTC")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 20*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 30*time.Second, cfg.RefreshWindow)
	assert.Equal(t, 10, cfg.DeviceFeedLimit)
	assert.Contains(t, cfg.LogRedactFields, "credential")

	key, err := cfg.CredentialKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CREDENTIAL_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: "DB_DRIVER"},
		{name: "short key", mutate: func(c *Config) { c.CredentialKey = "abcd" }, wantErr: "32 bytes"},
		{name: "non hex key", mutate: func(c *Config) { c.CredentialKey = strings.Repeat("z", 64) }, wantErr: "hex"},
		{name: "zero interval", mutate: func(c *Config) { c.PollInterval = 0 }, wantErr: "POLL_INTERVAL"},
		{name: "feed limit too large", mutate: func(c *Config) { c.DeviceFeedLimit = 50 }, wantErr: "DEVICE_FEED_LIMIT"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "TIMEZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				DBDriver:        "sqlite",
				CredentialKey:   testKey,
				PollInterval:    time.Second,
				RefreshWindow:   time.Second,
				ProviderTimeout: time.Second,
				PollConcurrency: 1,
				DeviceFeedLimit: 10,
				Timezone:        "UTC",
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
