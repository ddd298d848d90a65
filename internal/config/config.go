package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "MEET"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Session     SessionConfig     `mapstructure:"session"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Participant ParticipantConfig `mapstructure:"participant"`
}

type WebSocketConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendQueue  int           `mapstructure:"send_queue"`
}

type SessionConfig struct {
	OfferTimeout     time.Duration `mapstructure:"offer_timeout"`
	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`
	JoinChatLimit    int           `mapstructure:"join_chat_limit"`
	JoinChatBytes    int           `mapstructure:"join_chat_bytes"`
}

type DirectoryConfig struct {
	Driver string `mapstructure:"driver"`
	Strict bool   `mapstructure:"strict"`

	// CacheTTL bounds how long a lookup result is reused. Zero still
	// coalesces concurrent lookups but caches nothing.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type ParticipantConfig struct {
	ServerURL string   `mapstructure:"server_url"`
	StunURLs  []string `mapstructure:"stun_urls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")

	v.SetDefault("websocket.read_limit", 32768)
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.send_queue", 64)

	v.SetDefault("session.offer_timeout", "10s")
	v.SetDefault("session.chat_rate_limit", 20)
	v.SetDefault("session.chat_rate_interval", "10s")
	v.SetDefault("session.join_chat_limit", 50)
	v.SetDefault("session.join_chat_bytes", 65536)

	v.SetDefault("directory.driver", "memory")
	v.SetDefault("directory.strict", false)
	v.SetDefault("directory.cache_ttl", "5s")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("participant.server_url", "ws://localhost:8080/api/ws")
	v.SetDefault("participant.stun_urls", []string{"stun:stun.l.google.com:19302"})
}

// Load reads <CONFIG_PATH>/config.<CONFIG_ENV>.yaml (defaults: ./config, dev)
// over the built-in defaults. MEET_* environment variables win over both,
// e.g. MEET_WEBSOCKET_SEND_QUEUE.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	dir := os.Getenv("CONFIG_PATH")
	if dir == "" {
		dir = "config"
	}
	fileName := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("directory", cfg.Directory.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WebSocket.SendQueue <= 0 {
		return fmt.Errorf("websocket.send_queue must be positive, got %d", c.WebSocket.SendQueue)
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_period (%s) must be shorter than pong_wait (%s)", c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	if c.Session.OfferTimeout <= 0 {
		return fmt.Errorf("session.offer_timeout must be positive")
	}
	if c.Session.JoinChatLimit <= 0 {
		return fmt.Errorf("session.join_chat_limit must be positive")
	}
	// Leaves room for the roster within one frame.
	if c.Session.JoinChatBytes <= 0 || c.Session.JoinChatBytes > protocol.MaxFrameSize/2 {
		return fmt.Errorf("session.join_chat_bytes must be in (0, %d], got %d", protocol.MaxFrameSize/2, c.Session.JoinChatBytes)
	}
	if c.Directory.CacheTTL < 0 {
		return fmt.Errorf("directory.cache_ttl must not be negative")
	}
	return nil
}
