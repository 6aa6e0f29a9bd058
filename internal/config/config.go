package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. CAMPUSWIRE_HTTP_PORT
const EnvPrefix = "CAMPUSWIRE"

// DefaultJWTSecret is only suitable for local development
const DefaultJWTSecret = "campuswire-dev-secret-change-me"

type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Broker    *BrokerConfig    `mapstructure:"broker"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Chat      *ChatConfig      `mapstructure:"chat"`
	Notify    *NotifyConfig    `mapstructure:"notify"`
	Logging   *LoggingConfig   `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteRetries    int           `mapstructure:"write_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

type HTTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Debug          bool          `mapstructure:"debug"`
}

// Address returns host:port for the listener
func (h *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	BufferSize       int           `mapstructure:"buffer_size"`
	MaxFrameSize     int64         `mapstructure:"max_frame_size"`
}

// Broker drivers
const (
	BrokerNone  = "none"
	BrokerRedis = "redis"
)

type BrokerConfig struct {
	Driver         string        `mapstructure:"driver"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	ChannelPrefix  string        `mapstructure:"channel_prefix"`
	PublishRetries int           `mapstructure:"publish_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type ChatConfig struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	MaxMessageLength   int           `mapstructure:"max_message_length"`
	PersistTimeout     time.Duration `mapstructure:"persist_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Development  bool   `mapstructure:"development"`
	RollbarToken string `mapstructure:"rollbar_token"`
	Environment  string `mapstructure:"environment"`
}

// DefaultConfig returns settings that run a single local process
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "./data/campuswire.db",
			Timeout:         30 * time.Second,
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
			WriteRetries:    1,
			RetryDelay:      time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			IdleTimeout:      30 * time.Minute,
			BufferSize:       100,
			MaxFrameSize:     64 * 1024,
		},
		Broker: &BrokerConfig{
			Driver:         BrokerNone,
			RedisAddr:      "localhost:6379",
			ChannelPrefix:  "campuswire:room:",
			PublishRetries: 2,
			RetryDelay:     100 * time.Millisecond,
			PublishTimeout: 2 * time.Second,
		},
		Auth: &AuthConfig{
			JWTSecret: DefaultJWTSecret,
			Issuer:    "campuswire",
			TokenTTL:  24 * time.Hour,
		},
		Chat: &ChatConfig{
			HistoryLimit:       50,
			MaxMessageLength:   4000,
			PersistTimeout:     5 * time.Second,
			RateLimitPerMinute: 100,
		},
		Notify: &NotifyConfig{
			QueueSize: 1000,
		},
		Logging: &LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
	}
}

// Validate performs range checks and returns the first problem found
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Broker == nil ||
		c.Auth == nil || c.Chat == nil || c.Notify == nil || c.Logging == nil {
		return errors.New("every configuration section is required")
	}

	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.Database.WriteRetries < 0 {
		return errors.New("database write retries cannot be negative")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket timers must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.IdleTimeout < 0 {
		return errors.New("WebSocket idle timeout cannot be negative")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxFrameSize <= 0 {
		return errors.New("WebSocket max frame size must be positive")
	}

	switch c.Broker.Driver {
	case BrokerNone:
	case BrokerRedis:
		if c.Broker.RedisAddr == "" {
			return errors.New("broker redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("broker driver must be none or redis, got %q", c.Broker.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth jwt_secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if c.Chat.HistoryLimit < 0 {
		return errors.New("chat history limit cannot be negative")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return errors.New("chat max message length must be positive")
	}
	if c.Chat.PersistTimeout <= 0 {
		return errors.New("chat persist timeout must be positive")
	}
	if c.Chat.RateLimitPerMinute < 0 {
		return errors.New("chat rate limit cannot be negative")
	}

	if c.Notify.QueueSize <= 0 {
		return errors.New("notify queue size must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// Load builds the configuration from defaults, an optional config file,
// a .env file in the working directory, and CAMPUSWIRE_* environment
// variables, in increasing order of precedence. configFile may be empty,
// in which case CAMPUSWIRE_CONFIG_FILE or ./campuswire.{yaml,json,toml}
// is used when present.
func Load(configFile string) (*Config, error) {
	return load(configFile, ".env")
}

func load(configFile, dotEnv string) (*Config, error) {
	if dotEnv != "" {
		if err := godotenv.Load(dotEnv); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", dotEnv, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("campuswire")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.write_retries", d.Database.WriteRetries)
	v.SetDefault("database.retry_delay", d.Database.RetryDelay)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.allowed_origins", append([]string{}, d.HTTP.AllowedOrigins...))
	v.SetDefault("http.debug", d.HTTP.Debug)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.handshake_timeout", d.WebSocket.HandshakeTimeout)
	v.SetDefault("websocket.idle_timeout", d.WebSocket.IdleTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_frame_size", d.WebSocket.MaxFrameSize)

	v.SetDefault("broker.driver", d.Broker.Driver)
	v.SetDefault("broker.redis_addr", d.Broker.RedisAddr)
	v.SetDefault("broker.redis_password", d.Broker.RedisPassword)
	v.SetDefault("broker.redis_db", d.Broker.RedisDB)
	v.SetDefault("broker.channel_prefix", d.Broker.ChannelPrefix)
	v.SetDefault("broker.publish_retries", d.Broker.PublishRetries)
	v.SetDefault("broker.retry_delay", d.Broker.RetryDelay)
	v.SetDefault("broker.publish_timeout", d.Broker.PublishTimeout)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("chat.history_limit", d.Chat.HistoryLimit)
	v.SetDefault("chat.max_message_length", d.Chat.MaxMessageLength)
	v.SetDefault("chat.persist_timeout", d.Chat.PersistTimeout)
	v.SetDefault("chat.rate_limit_per_minute", d.Chat.RateLimitPerMinute)

	v.SetDefault("notify.queue_size", d.Notify.QueueSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.rollbar_token", d.Logging.RollbarToken)
	v.SetDefault("logging.environment", d.Logging.Environment)
}
