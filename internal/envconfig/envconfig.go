// Package envconfig loads binary settings from the environment and an optional
// .env file using Viper.
package envconfig

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/spf13/viper"
)

// Store backends selectable with TRUSTCORE_STORE.
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Settings holds everything the binaries read from the environment.
type Settings struct {
	// Store is redis, postgres or sqlite.
	Store string `mapstructure:"TRUSTCORE_STORE"`
	// RedisAddr is host:port of the Redis server.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`
	// DatabaseURL is the Postgres DSN or SQLite file path.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// MasterKey is the HKDF input for both signing keys. A "base64:" prefix
	// marks an encoded value; anything else is used as raw bytes.
	MasterKey  string `mapstructure:"TRUSTCORE_MASTER_KEY"`
	Issuer     string `mapstructure:"TRUSTCORE_ISSUER"`
	Audience   string `mapstructure:"TRUSTCORE_AUDIENCE"`
	AccessTTL  string `mapstructure:"TRUSTCORE_ACCESS_TTL"`
	RefreshTTL string `mapstructure:"TRUSTCORE_REFRESH_TTL"`
	// RevokeFamilyOnReuse kills the whole session when a rotated-out renewal
	// credential is presented again.
	RevokeFamilyOnReuse bool `mapstructure:"TRUSTCORE_REVOKE_ON_REUSE"`

	MFAIssuer        string `mapstructure:"TRUSTCORE_MFA_ISSUER"`
	RateLimitEnabled bool   `mapstructure:"TRUSTCORE_RATE_LIMIT_ENABLED"`

	JanitorInterval  string `mapstructure:"TRUSTCORE_JANITOR_INTERVAL"`
	SessionRetention string `mapstructure:"TRUSTCORE_SESSION_RETENTION"`

	// MetricsAddr, when set, serves Prometheus text metrics on /metrics.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// Load reads .env from the working directory if present, then the environment.
// Environment variables override .env entries.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("TRUSTCORE_STORE", StoreRedis)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "tc")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TRUSTCORE_MASTER_KEY", "")
	v.SetDefault("TRUSTCORE_ISSUER", "trustcore")
	v.SetDefault("TRUSTCORE_AUDIENCE", "")
	v.SetDefault("TRUSTCORE_ACCESS_TTL", "1h")
	v.SetDefault("TRUSTCORE_REFRESH_TTL", "168h")
	v.SetDefault("TRUSTCORE_REVOKE_ON_REUSE", false)
	v.SetDefault("TRUSTCORE_MFA_ISSUER", "trustcore")
	v.SetDefault("TRUSTCORE_RATE_LIMIT_ENABLED", true)
	v.SetDefault("TRUSTCORE_JANITOR_INTERVAL", "15m")
	v.SetDefault("TRUSTCORE_SESSION_RETENTION", "720h")
	v.SetDefault("METRICS_ADDR", "")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}

	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	switch s.Store {
	case StoreRedis:
		if s.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when TRUSTCORE_STORE=redis")
		}
	case StorePostgres, StoreSQLite:
		if s.DatabaseURL == "" {
			return nil, fmt.Errorf("config: DATABASE_URL must be set when TRUSTCORE_STORE=%s", s.Store)
		}
	default:
		return nil, fmt.Errorf("config: TRUSTCORE_STORE must be redis, postgres or sqlite, got %q", s.Store)
	}

	return &s, nil
}

// EngineConfig applies the settings on top of trustcore.DefaultConfig and
// validates the result.
func (s *Settings) EngineConfig() (trustcore.Config, error) {
	cfg := trustcore.DefaultConfig()

	key, err := s.masterKey()
	if err != nil {
		return trustcore.Config{}, err
	}
	cfg.Token.MasterKey = key
	cfg.Token.Issuer = s.Issuer
	cfg.Token.Audience = s.Audience
	cfg.Token.RevokeFamilyOnReuse = s.RevokeFamilyOnReuse
	cfg.MFA.Issuer = s.MFAIssuer
	cfg.RateLimit.Enabled = s.RateLimitEnabled

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"TRUSTCORE_ACCESS_TTL", s.AccessTTL, &cfg.Token.AccessTTL},
		{"TRUSTCORE_REFRESH_TTL", s.RefreshTTL, &cfg.Token.RefreshTTL},
		{"TRUSTCORE_JANITOR_INTERVAL", s.JanitorInterval, &cfg.Cleanup.Interval},
		{"TRUSTCORE_SESSION_RETENTION", s.SessionRetention, &cfg.Cleanup.SessionRetention},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return trustcore.Config{}, fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return trustcore.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (s *Settings) masterKey() ([]byte, error) {
	if s.MasterKey == "" {
		return nil, errors.New("config: TRUSTCORE_MASTER_KEY must be set")
	}
	if encoded, ok := strings.CutPrefix(s.MasterKey, "base64:"); ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTCORE_MASTER_KEY: %w", err)
		}
		return key, nil
	}
	return []byte(s.MasterKey), nil
}
