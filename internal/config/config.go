// Package config provides Viper-based configuration loading for the chess server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the WebSocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the WebSocket listener.
	Port int `mapstructure:"port"`
	// WriteTimeout is the per-message write deadline for client connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongTimeout is how long a connection may go without a pong before it
	// is considered dead.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	// SendBuffer is the per-connection outbound message buffer size.
	// A connection whose buffer stays full is treated as disconnected.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PingPeriod returns the interval at which pings are sent to clients.
// It must be shorter than PongTimeout so a healthy client never expires.
func (s ServerConfig) PingPeriod() time.Duration {
	return s.PongTimeout * 9 / 10
}

// GameConfig holds session and matchmaking settings.
type GameConfig struct {
	// GracePeriod is how long a paused session waits for a disconnected
	// player to resume before ending the game.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// Retention is how long an ended session remains resolvable so a late
	// resume can still receive the final result.
	Retention time.Duration `mapstructure:"retention"`
	// ChatLogCapacity is the maximum number of chat entries kept per session;
	// oldest entries are dropped first.
	ChatLogCapacity int `mapstructure:"chat_log_capacity"`
	// ChatMaxLength is the maximum accepted chat message length in runes.
	ChatMaxLength int `mapstructure:"chat_max_length"`
	// PendingBuffer is the per-slot capacity for messages queued while a
	// player is disconnected.
	PendingBuffer int `mapstructure:"pending_buffer"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if s.PongTimeout <= 0 {
		errs = append(errs, "server.pong_timeout must be positive")
	}
	if s.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("server.send_buffer must be >= 1, got %d", s.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.GracePeriod <= 0 {
		errs = append(errs, "game.grace_period must be positive")
	}
	if g.Retention < 0 {
		errs = append(errs, "game.retention must not be negative")
	}
	if g.ChatLogCapacity < 1 {
		errs = append(errs, fmt.Sprintf("game.chat_log_capacity must be >= 1, got %d", g.ChatLogCapacity))
	}
	if g.ChatMaxLength < 1 {
		errs = append(errs, fmt.Sprintf("game.chat_max_length must be >= 1, got %d", g.ChatMaxLength))
	}
	if g.PendingBuffer < 1 {
		errs = append(errs, fmt.Sprintf("game.pending_buffer must be >= 1, got %d", g.PendingBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with CHESSD_ prefix
	v.SetEnvPrefix("CHESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.pong_timeout", "60s")
	v.SetDefault("server.send_buffer", 64)

	v.SetDefault("game.grace_period", "60s")
	v.SetDefault("game.retention", "5m")
	v.SetDefault("game.chat_log_capacity", 100)
	v.SetDefault("game.chat_max_length", 500)
	v.SetDefault("game.pending_buffer", 32)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
