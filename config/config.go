// Package config loads cachegraph settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	rp "github.com/unkn0wn-root/cachegraph/provider/redis"
	"github.com/unkn0wn-root/cachegraph/ttl"
)

// ErrInvalid wraps every validation failure reported by Load.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Enabled       bool          `mapstructure:"CACHE_ENABLED"`
	TTLMultiplier float64       `mapstructure:"CACHE_TTL_MULTIPLIER"`
	TTLJitter     float64       `mapstructure:"CACHE_TTL_JITTER"`
	MaxTTL        time.Duration `mapstructure:"CACHE_MAX_TTL"`

	RedisHost        string        `mapstructure:"REDIS_HOST"`
	RedisPort        int           `mapstructure:"REDIS_PORT"`
	RedisUsername    string        `mapstructure:"REDIS_USERNAME"`
	RedisPassword    string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int           `mapstructure:"REDIS_DB"`
	RedisTLS         bool          `mapstructure:"REDIS_TLS"`
	RedisDialTimeout time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisOpTimeout   time.Duration `mapstructure:"REDIS_OP_TIMEOUT"`
	RedisPoolSize    int           `mapstructure:"REDIS_POOL_SIZE"`
}

var defaults = map[string]any{
	"CACHE_ENABLED":        true,
	"CACHE_TTL_MULTIPLIER": ttl.DefaultMultiplier,
	"CACHE_TTL_JITTER":     ttl.DefaultJitter,
	"CACHE_MAX_TTL":        ttl.DefaultMaxTTL,
	"REDIS_PORT":           6379,
	"REDIS_DB":             0,
	"REDIS_TLS":            false,
	"REDIS_DIAL_TIMEOUT":   5 * time.Second,
	"REDIS_OP_TIMEOUT":     2 * time.Second,
	"REDIS_POOL_SIZE":      10,
}

var envKeys = []string{
	"CACHE_ENABLED", "CACHE_TTL_MULTIPLIER", "CACHE_TTL_JITTER", "CACHE_MAX_TTL",
	"REDIS_HOST", "REDIS_PORT", "REDIS_USERNAME", "REDIS_PASSWORD", "REDIS_DB",
	"REDIS_TLS", "REDIS_DIAL_TIMEOUT", "REDIS_OP_TIMEOUT", "REDIS_POOL_SIZE",
}

// Load reads the environment. envFiles are loaded first without overriding
// variables already set; with no envFiles, ./.env is used when present.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("config: load env files: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if c.Enabled && c.RedisHost == "" {
		bad("REDIS_HOST is required while the cache is enabled")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		bad("REDIS_PORT %d out of range", c.RedisPort)
	}
	if c.RedisDB < 0 {
		bad("REDIS_DB %d is negative", c.RedisDB)
	}
	if c.RedisDialTimeout < 0 || c.RedisOpTimeout < 0 {
		bad("redis timeouts must not be negative")
	}
	if c.RedisPoolSize < 0 {
		bad("REDIS_POOL_SIZE %d is negative", c.RedisPoolSize)
	}
	if c.TTLMultiplier <= 0 {
		bad("CACHE_TTL_MULTIPLIER must be positive, got %v", c.TTLMultiplier)
	}
	if c.TTLJitter < 0 || c.TTLJitter >= c.TTLMultiplier {
		bad("CACHE_TTL_JITTER must be in [0, multiplier), got %v", c.TTLJitter)
	}
	if c.MaxTTL < time.Second {
		bad("CACHE_MAX_TTL must be at least 1s, got %s", c.MaxTTL)
	}
	return errors.Join(errs...)
}

// Redis returns the provider configuration.
func (c *Config) Redis() rp.Config {
	rc := rp.DefaultConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Username = c.RedisUsername
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	rc.TLS = c.RedisTLS
	rc.PoolSize = c.RedisPoolSize
	if c.RedisDialTimeout > 0 {
		rc.DialTimeout = c.RedisDialTimeout
	}
	if c.RedisOpTimeout > 0 {
		rc.OpTimeout = c.RedisOpTimeout
	}
	return rc
}

// TTL returns the default policy tuned by the CACHE_TTL_* settings.
func (c *Config) TTL() ttl.Policy {
	p := ttl.DefaultPolicy()
	p.Multiplier = c.TTLMultiplier
	p.Jitter = c.TTLJitter
	p.MaxTTL = c.MaxTTL
	return p
}

func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Enabled: %v\n", c.Enabled)
	fmt.Fprintf(&sb, "  TTLMultiplier: %v\n", c.TTLMultiplier)
	fmt.Fprintf(&sb, "  TTLJitter: %v\n", c.TTLJitter)
	fmt.Fprintf(&sb, "  MaxTTL: %s\n", c.MaxTTL)
	fmt.Fprintf(&sb, "  RedisAddr: %s:%d/%d\n", c.RedisHost, c.RedisPort, c.RedisDB)
	fmt.Fprintf(&sb, "  RedisUsername: %s\n", c.RedisUsername)
	if c.RedisPassword != "" {
		sb.WriteString("  RedisPassword: ********\n")
	} else {
		sb.WriteString("  RedisPassword: (empty)\n")
	}
	fmt.Fprintf(&sb, "  RedisTLS: %v\n", c.RedisTLS)
	fmt.Fprintf(&sb, "  RedisDialTimeout: %s\n", c.RedisDialTimeout)
	fmt.Fprintf(&sb, "  RedisOpTimeout: %s\n", c.RedisOpTimeout)
	fmt.Fprintf(&sb, "  RedisPoolSize: %d\n", c.RedisPoolSize)
	return sb.String()
}
