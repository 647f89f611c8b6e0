package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Server.Name = "typo3"
	cfg.SSH.Host = "review.typo3.org"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ssh", cfg.Connector)
	assert.Equal(t, 29418, cfg.SSH.Port)
	assert.Equal(t, 500, cfg.SSH.QueryLimit)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid ssh", func(c *Config) {}, false},
		{"missing server name", func(c *Config) { c.Server.Name = "" }, true},
		{"missing ssh host", func(c *Config) { c.SSH.Host = "" }, true},
		{"http without base url", func(c *Config) { c.Connector = "http" }, true},
		{"http with base url", func(c *Config) {
			c.Connector = "http"
			c.HTTP.BaseURL = "https://review.typo3.org"
		}, false},
		{"unknown connector", func(c *Config) { c.Connector = "carrier-pigeon" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Driver = "postgres"
			c.Storage.PostgresDSN = "postgres://localhost/mirror"
		}, false},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"bad crawl mode", func(c *Config) { c.Crawl.Mode = "resume" }, true},
		{"initial crawl mode", func(c *Config) { c.Crawl.Mode = "initial" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REVIEWSYNC_SERVER_NAME", "wikimedia")
	t.Setenv("REVIEWSYNC_SSH_HOST", "gerrit.wikimedia.org")
	t.Setenv("REVIEWSYNC_POSTGRES_DSN", "postgres://localhost/mirror")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "wikimedia", cfg.Server.Name)
	assert.Equal(t, "gerrit.wikimedia.org", cfg.SSH.Host)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/mirror", cfg.Storage.PostgresDSN)
}

func TestDSN(t *testing.T) {
	cfg := validConfig()
	driver, dsn := cfg.DSN()
	assert.Equal(t, "sqlite3", driver)
	assert.NotEmpty(t, dsn)

	cfg.Storage.Driver = "postgres"
	cfg.Storage.PostgresDSN = "postgres://localhost/mirror"
	driver, dsn = cfg.DSN()
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgres://localhost/mirror", dsn)
}
