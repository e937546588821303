// Package config loads server configuration from defaults, an optional YAML
// file and CR_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	envPrefix  = "CR_"
	envConfig  = "CR_CONFIG"
	defaultTTL = time.Hour
)

type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or text.
	LogFormat string `koanf:"log_format"`

	Addr string `koanf:"addr"`
	// DatabaseURL enables race result persistence when set.
	DatabaseURL string `koanf:"database_url"`

	CountdownFrom     int           `koanf:"countdown_from"`
	CountdownInterval time.Duration `koanf:"countdown_interval"`
	TargetLaps        int           `koanf:"target_laps"`
	HostMigration     bool          `koanf:"host_migration"`
	RoomIdleTTL       time.Duration `koanf:"room_idle_ttl"`

	// TrackFile enables lap tracking when set.
	TrackFile          string        `koanf:"track_file"`
	SequentialOrder    bool          `koanf:"sequential_order"`
	CheckpointCooldown time.Duration `koanf:"checkpoint_cooldown"`
	StandingsRefreshHz int           `koanf:"standings_refresh_hz"`

	// ClientBuffer is the outbound queue length per connection.
	ClientBuffer int `koanf:"client_buffer"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:           "info",
		LogFormat:          "json",
		Addr:               ":3000",
		CountdownFrom:      3,
		CountdownInterval:  time.Second,
		TargetLaps:         3,
		HostMigration:      true,
		RoomIdleTTL:        defaultTTL,
		SequentialOrder:    true,
		CheckpointCooldown: 500 * time.Millisecond,
		StandingsRefreshHz: 5,
		ClientBuffer:       64,
	}
}

// Load layers path (or CR_CONFIG when path is empty) and CR_* variables
// over Default.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// CR_COUNTDOWN_FROM -> countdown_from
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail later at runtime.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.CountdownFrom < 0:
		return fmt.Errorf("%w: countdown_from must be >= 0", ErrInvalidConfig)
	case c.CountdownInterval <= 0:
		return fmt.Errorf("%w: countdown_interval must be positive", ErrInvalidConfig)
	case c.TargetLaps < 0:
		return fmt.Errorf("%w: target_laps must be >= 0", ErrInvalidConfig)
	case c.StandingsRefreshHz < 0:
		return fmt.Errorf("%w: standings_refresh_hz must be >= 0", ErrInvalidConfig)
	case c.CheckpointCooldown < 0:
		return fmt.Errorf("%w: checkpoint_cooldown must be >= 0", ErrInvalidConfig)
	case c.ClientBuffer <= 0:
		return fmt.Errorf("%w: client_buffer must be positive", ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "json", "text", "console":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
