package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			WriteTimeout: 10 * time.Second,
			PongTimeout:  time.Minute,
			SendBuffer:   64,
		},
		Game: GameConfig{
			GracePeriod:     time.Minute,
			Retention:       5 * time.Minute,
			ChatLogCapacity: 100,
			ChatMaxLength:   500,
			PendingBuffer:   32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestServerAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestPingPeriodShorterThanPongTimeout(t *testing.T) {
	cfg := validConfig()
	assert.Less(t, cfg.Server.PingPeriod(), cfg.Server.PongTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 8001
  write_timeout: 5s
  pong_timeout: 30s
  send_buffer: 16
game:
  grace_period: 90s
  retention: 1m
  chat_log_capacity: 50
  chat_max_length: 200
  pending_buffer: 8
logging:
  level: debug
  format: console
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Game.GracePeriod)
	assert.Equal(t, 50, cfg.Game.ChatLogCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Game.GracePeriod)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateServerPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Server.Port = 65536
	assert.Error(t, cfg.Validate())
}

func TestValidateSendBuffer(t *testing.T) {
	cfg := validConfig()
	cfg.Server.SendBuffer = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateGracePeriod(t *testing.T) {
	cfg := validConfig()
	cfg.Game.GracePeriod = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRetentionNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Game.Retention = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Game.Retention = 0
	assert.NoError(t, cfg.Validate(), "zero retention disables archival delay and is valid")
}

func TestValidateChatLogCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Game.ChatLogCapacity = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

func TestPropertyPingPeriodAlwaysShorter(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		secs := rapid.IntRange(1, 3600).Draw(t, "pong_secs")
		s := ServerConfig{PongTimeout: time.Duration(secs) * time.Second}
		if s.PingPeriod() >= s.PongTimeout {
			t.Fatalf("ping period %v >= pong timeout %v", s.PingPeriod(), s.PongTimeout)
		}
	})
}
