// Package config loads patientdb settings from, in increasing precedence,
// built-in defaults, an optional patientdb.yaml, PATIENTDB_* environment
// variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Broadcast media.
const (
	MediumMemory = "memory"
	MediumRedis  = "redis"
	MediumWS     = "ws"
)

// EnvPrefix prefixes every environment override, e.g. PATIENTDB_REDIS_URL.
const EnvPrefix = "PATIENTDB"

// Config is the resolved configuration.
type Config struct {
	DB      string      `mapstructure:"db"`
	Channel string      `mapstructure:"channel"`
	Medium  string      `mapstructure:"medium"`
	Redis   RedisConfig `mapstructure:"redis"`
	Relay   RelayConfig `mapstructure:"relay"`
	Log     LogConfig   `mapstructure:"log"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RelayConfig struct {
	// URL is the relay endpoint replicas dial.
	URL string `mapstructure:"url"`
	// Addr is the listen address of `patientdb relay`.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// New returns a viper instance with defaults and environment binding set
// up. Flags are bound by the caller.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("db", "patients.db")
	v.SetDefault("channel", "patient-db-sync")
	v.SetDefault("medium", MediumMemory)
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("relay.url", "ws://127.0.0.1:8089/ws")
	v.SetDefault("relay.addr", ":8089")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and decodes the result. With an empty path,
// patientdb.yaml is searched in the working directory and
// $HOME/.config/patientdb, and a missing file is not an error. An explicit
// path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("patientdb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/patientdb")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.Medium {
	case MediumMemory, MediumRedis, MediumWS:
	default:
		return fmt.Errorf("invalid medium %q: must be memory, redis or ws", c.Medium)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Channel == "" {
		return errors.New("channel must not be empty")
	}
	return nil
}
