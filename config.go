package tokenlife

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/tokenlife/keys"
)

// Config is the complete engine configuration. Build copies it; later
// mutation of the caller's value has no effect on a built Engine.
type Config struct {
	JWT      JWTConfig      `envconfig:"JWT" yaml:"jwt"`
	Keys     KeysConfig     `envconfig:"KEYS" yaml:"keys"`
	Store    StoreConfig    `envconfig:"STORE" yaml:"store"`
	Audit    AuditConfig    `envconfig:"AUDIT" yaml:"audit"`
	Metrics  MetricsConfig  `envconfig:"METRICS" yaml:"metrics"`
	Security SecurityConfig `envconfig:"SECURITY" yaml:"security"`
	Log      LogConfig      `envconfig:"LOG" yaml:"log"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token lifetimes. Both TTLs are constants for the life of
// the engine, so access record order by expiry equals issuance order.
type JWTConfig struct {
	AccessTTL  time.Duration `envconfig:"ACCESS_TTL" yaml:"access_ttl"`
	RefreshTTL time.Duration `envconfig:"REFRESH_TTL" yaml:"refresh_ttl"`
	// Issuer is written to iss and required on decode when set.
	Issuer string `envconfig:"ISSUER" yaml:"issuer"`
}

/*
====================================
KEYS CONFIG
====================================
*/

// KeysConfig selects the signature algorithm and where the key pair lives.
//
// In ephemeral mode the key pair is generated at build and never persisted:
// a restart invalidates every outstanding token. Persistent mode loads File,
// generating and writing it on first start; rotation means replacing the
// file and restarting.
type KeysConfig struct {
	Algorithm string `envconfig:"ALGORITHM" yaml:"algorithm"`
	RSABits   int    `envconfig:"RSA_BITS" yaml:"rsa_bits"`
	Mode      string `envconfig:"MODE" yaml:"mode"`
	File      string `envconfig:"FILE" yaml:"file"`
}

/*
====================================
STORE CONFIG
====================================
*/

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Backend string `envconfig:"BACKEND" yaml:"backend"`

	RedisAddr     string `envconfig:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" yaml:"redis_password"`
	RedisDB       int    `envconfig:"REDIS_DB" yaml:"redis_db"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" yaml:"redis_prefix"`

	PostgresDSN      string `envconfig:"POSTGRES_DSN" yaml:"postgres_dsn"`
	PostgresMaxConns int32  `envconfig:"POSTGRES_MAX_CONNS" yaml:"postgres_max_conns"`

	// MaxAccessTokens caps live access tokens per identity; 0 means
	// unbounded. When the cap is hit the tokens closest to expiry go first.
	MaxAccessTokens int `envconfig:"MAX_ACCESS_TOKENS" yaml:"max_access_tokens"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `envconfig:"ENABLED" yaml:"enabled"`
	BufferSize int  `envconfig:"BUFFER_SIZE" yaml:"buffer_size"`
	DropIfFull bool `envconfig:"DROP_IF_FULL" yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `envconfig:"ENABLED" yaml:"enabled"`
	EnableLatencyHistograms bool `envconfig:"LATENCY_HISTOGRAMS" yaml:"latency_histograms"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the refresh throttle. The throttle counts refresh
// attempts per subject in a fixed window: in Redis when the engine has a
// Redis client, in process otherwise.
type SecurityConfig struct {
	EnableRefreshThrottle   bool          `envconfig:"REFRESH_THROTTLE" yaml:"refresh_throttle"`
	MaxRefreshAttempts      int           `envconfig:"MAX_REFRESH_ATTEMPTS" yaml:"max_refresh_attempts"`
	RefreshCooldownDuration time.Duration `envconfig:"REFRESH_COOLDOWN" yaml:"refresh_cooldown"`
}

/*
====================================
LOG CONFIG
====================================
*/

type LogConfig struct {
	Level   string `envconfig:"LEVEL" yaml:"level"`
	Format  string `envconfig:"FORMAT" yaml:"format"`
	Service string `envconfig:"SERVICE" yaml:"service"`
	Env     string `envconfig:"ENV" yaml:"env"`
}

// DefaultConfig returns the defaults: one hour access tokens, seven day
// refresh tokens, RS256 with 2048-bit keys generated per process, and the
// in-memory store.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Keys: KeysConfig{
			Algorithm: keys.AlgorithmRS256,
			RSABits:   2048,
			Mode:      keys.ModeEphemeral,
		},
		Store: StoreConfig{
			Backend:          StoreMemory,
			RedisAddr:        "localhost:6379",
			RedisPrefix:      "tl",
			PostgresMaxConns: 10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			EnableRefreshThrottle:   false,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Service: "tokenlife",
			Env:     "dev",
		},
	}
}

func cloneConfig(cfg Config) Config {
	// Every field is a value type.
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL < time.Second || c.JWT.RefreshTTL < time.Second {
		// iat and exp have second precision.
		return errors.New("JWT TTLs must be >= 1s")
	}
	if strings.TrimSpace(c.JWT.Issuer) != c.JWT.Issuer {
		return errors.New("JWT Issuer must not have surrounding whitespace")
	}

	// Keys
	switch c.Keys.Algorithm {
	case keys.AlgorithmRS256:
		if c.Keys.RSABits < 2048 {
			return errors.New("Keys RSABits must be >= 2048")
		}
	case keys.AlgorithmES256, keys.AlgorithmEdDSA:
	default:
		return errors.New("Keys Algorithm must be RS256, ES256 or EdDSA")
	}
	switch c.Keys.Mode {
	case keys.ModeEphemeral:
	case keys.ModePersistent:
		if c.Keys.File == "" {
			return errors.New("Keys File is required in persistent mode")
		}
	default:
		return errors.New("Keys Mode must be 'ephemeral' or 'persistent'")
	}

	// Store
	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisPrefix == "" {
			return errors.New("Store RedisPrefix must not be empty")
		}
	case StorePostgres:
		if c.Store.PostgresMaxConns <= 0 {
			return errors.New("Store PostgresMaxConns must be > 0")
		}
	default:
		return errors.New("Store Backend must be memory, redis or postgres")
	}
	if c.Store.MaxAccessTokens < 0 {
		return errors.New("Store MaxAccessTokens must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.New("Log Level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return errors.New("Log Format must be 'json' or 'text'")
	}

	return nil
}
