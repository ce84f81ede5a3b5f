package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Feed backends.
const (
	FeedMemory = "memory"
	FeedRedis  = "redis"
)

// EnvAuthSecret overrides auth.secret so the secret need not live in the file.
const EnvAuthSecret = "GRAFFITI_AUTH_SECRET"

// Config is the merged server configuration.
type Config struct {
	Listen            string        `yaml:"listen"`
	Database          string        `yaml:"database"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	BatchSize         int           `yaml:"batchSize"`
	OutboxSize        int           `yaml:"outboxSize"`
	LogLevel          string        `yaml:"logLevel"`
	Feed              FeedConfig    `yaml:"feed"`
	Auth              AuthConfig    `yaml:"auth"`
}

// FeedConfig selects the change feed backend.
type FeedConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redisAddr"`
	Channel   string `yaml:"channel"`
}

// AuthConfig configures bearer token verification. An empty secret means
// every connection is anonymous.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:            ":8080",
		Database:          "graffiti.db",
		HeartbeatInterval: 15 * time.Second,
		WriteTimeout:      10 * time.Second,
		BatchSize:         100,
		OutboxSize:        256,
		LogLevel:          "info",
		Feed: FeedConfig{
			Backend: FeedMemory,
			Channel: "graffiti:changes",
		},
	}
}

// Error is a configuration problem, with the file position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load returns the defaults overlaid with the file at path (if path is
// non-empty) and the environment. The result is not yet validated; call
// Validate after applying flag overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if secret := os.Getenv(EnvAuthSecret); secret != "" {
		cfg.Auth.Secret = secret
	}
	return cfg, nil
}

// Parse checks data against the schema and overlays it onto cfg.
// filename is used in error positions only.
func Parse(filename string, data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := checkSchema(filename, data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &Error{Field: "yaml", Message: err.Error()}
	}
	return nil
}

// checkSchema unifies the YAML document with #Config.
func checkSchema(filename string, data []byte) error {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return formatCUEError(err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &Error{Field: "cue", Message: err.Error()}
	}

	first := list[0]
	format, args := first.Msg()
	out := &Error{
		Field:   pathString(first.Path()),
		Message: fmt.Sprintf(format, args...),
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}

func pathString(path []string) string {
	if len(path) == 0 {
		return "config"
	}
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}

// Validate checks cross-field constraints on the merged configuration.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return &Error{Field: "listen", Message: "must not be empty"}
	case c.Database == "":
		return &Error{Field: "database", Message: "must not be empty"}
	case c.HeartbeatInterval <= 0:
		return &Error{Field: "heartbeatInterval", Message: "must be positive"}
	case c.WriteTimeout <= 0:
		return &Error{Field: "writeTimeout", Message: "must be positive"}
	case c.BatchSize < 1:
		return &Error{Field: "batchSize", Message: "must be at least 1"}
	case c.OutboxSize < 1:
		return &Error{Field: "outboxSize", Message: "must be at least 1"}
	}

	switch c.Feed.Backend {
	case FeedMemory:
	case FeedRedis:
		if c.Feed.RedisAddr == "" {
			return &Error{Field: "feed.redisAddr", Message: "required when feed.backend is redis"}
		}
	default:
		return &Error{Field: "feed.backend", Message: fmt.Sprintf("unknown backend %q", c.Feed.Backend)}
	}
	return nil
}
