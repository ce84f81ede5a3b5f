package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graffiti.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
heartbeatInterval: 30s
batchSize: 25
feed:
  backend: redis
  redisAddr: "localhost:6379"
auth:
  secret: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, FeedRedis, cfg.Feed.Backend)
	assert.Equal(t, "localhost:6379", cfg.Feed.RedisAddr)
	assert.Equal(t, "hunter2", cfg.Auth.Secret)

	// Untouched fields keep their defaults.
	assert.Equal(t, "graffiti.db", cfg.Database)
	assert.Equal(t, 256, cfg.OutboxSize)
	assert.Equal(t, "graffiti:changes", cfg.Feed.Channel)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvSecret(t *testing.T) {
	t.Setenv(EnvAuthSecret, "from-env")

	cfg, err := Load(writeConfig(t, "auth:\n  secret: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown field", input: "listn: ':8080'\n"},
		{name: "batch size zero", input: "batchSize: 0\n"},
		{name: "batch size string", input: "batchSize: lots\n"},
		{name: "bad duration", input: "heartbeatInterval: soon\n"},
		{name: "numeric duration", input: "heartbeatInterval: 15\n"},
		{name: "unknown backend", input: "feed:\n  backend: kafka\n"},
		{name: "unknown log level", input: "logLevel: chatty\n"},
		{name: "nested unknown field", input: "auth:\n  issuer: me\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := Parse("test.yaml", []byte(tt.input), cfg)
			require.Error(t, err)

			var cfgErr *Error
			assert.True(t, errors.As(err, &cfgErr), "expected *config.Error, got %T", err)
			assert.Equal(t, Default(), cfg, "a rejected file must not change the config")
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	err := Parse("test.yaml", []byte("listen: [unclosed\n"), Default())
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "empty listen", mutate: func(c *Config) { c.Listen = "" }, field: "listen"},
		{name: "empty database", mutate: func(c *Config) { c.Database = "" }, field: "database"},
		{name: "zero heartbeat", mutate: func(c *Config) { c.HeartbeatInterval = 0 }, field: "heartbeatInterval"},
		{name: "zero write timeout", mutate: func(c *Config) { c.WriteTimeout = 0 }, field: "writeTimeout"},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, field: "batchSize"},
		{name: "zero outbox", mutate: func(c *Config) { c.OutboxSize = 0 }, field: "outboxSize"},
		{name: "redis without addr", mutate: func(c *Config) { c.Feed.Backend = FeedRedis }, field: "feed.redisAddr"},
		{name: "unknown backend", mutate: func(c *Config) { c.Feed.Backend = "nats" }, field: "feed.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestError_Format(t *testing.T) {
	err := &Error{Field: "batchSize", Message: "must be at least 1"}
	assert.Equal(t, "batchSize: must be at least 1", err.Error())
}
