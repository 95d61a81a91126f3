package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode             string          `mapstructure:"mode"`
	Port             int             `mapstructure:"port"`
	LogLevel         string          `mapstructure:"log_level"`
	ReadLimit        int64           `mapstructure:"read_limit"`
	PingPeriod       time.Duration   `mapstructure:"ping_period"`
	WriteTimeout     time.Duration   `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	SendBuffer       int             `mapstructure:"send_buffer"`
	SlowConsumer     string          `mapstructure:"slow_consumer"`
	JWT              JWTConfig       `mapstructure:"jwt"`
	Database         DatabaseConfig  `mapstructure:"database"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	Seed             SeedConfig      `mapstructure:"seed"`
}

// JWTConfig defines token verification and issuance parameters.
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RateLimitConfig bounds inbound client events per user.
type RateLimitConfig struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

// SeedConfig lists roles and users written to the identity store at startup.
type SeedConfig struct {
	Roles []SeedRole `mapstructure:"roles"`
	Users []SeedUser `mapstructure:"users"`
}

type SeedRole struct {
	Name        string   `mapstructure:"name"`
	Permissions []string `mapstructure:"permissions"` // action:resource
}

type SeedUser struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Role     string `mapstructure:"role"`
}

// PongWait is how long a connection may stay silent before it is considered idle.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	switch c.SlowConsumer {
	case "kick", "drop":
	default:
		return fmt.Errorf("slow_consumer must be kick or drop, got %q", c.SlowConsumer)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("handshake_timeout", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("slow_consumer", "kick")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "beacon")
	v.SetDefault("jwt.expiration", "24h")
	v.SetDefault("database.path", "beacon.db")
	v.SetDefault("rate_limit.events", 20)
	v.SetDefault("rate_limit.interval", "1s")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then applies BEACON_* environment overrides.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("slow_consumer", cfg.SlowConsumer).
		Msg("config ready")
	return &cfg, nil
}
