package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jwalitptl/nurse-call-api/internal/email"
	"github.com/jwalitptl/nurse-call-api/internal/hub"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/messaging/redis"
)

const EnvPrefix = "NURSECALL"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Hub          HubConfig          `mapstructure:"hub"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Relay        RelayConfig        `mapstructure:"relay"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Alert        AlertConfig        `mapstructure:"alert"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type HubConfig struct {
	SessionBuffer int `mapstructure:"session_buffer"`
	Retention     int `mapstructure:"retention"`
}

type CoordinationConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type RelayConfig struct {
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AlertConfig struct {
	Recipients  []string `mapstructure:"recipients"`
	MinPriority string   `mapstructure:"min_priority"`
	HealthAddr  string   `mapstructure:"health_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("hub.session_buffer", hub.DefaultSessionBuffer)
	v.SetDefault("hub.retention", hub.DefaultRetention)

	v.SetDefault("coordination.idempotency_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "nursecall.requests")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("relay.retry_attempts", 3)
	v.SetDefault("relay.retry_delay", 200*time.Millisecond)
	v.SetDefault("relay.reconnect_delay", time.Second)
	v.SetDefault("relay.reconnect_max_delay", 30*time.Second)
	v.SetDefault("relay.breaker_failures", 5)
	v.SetDefault("relay.breaker_timeout", 30*time.Second)

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "nurse-call@localhost")

	v.SetDefault("alert.recipients", []string{})
	v.SetDefault("alert.min_priority", string(model.PriorityHigh))
	v.SetDefault("alert.health_addr", ":8081")
}

// LoadConfig reads config.yml from the usual locations (or path, when set),
// applies NURSECALL_* environment overrides and fills in defaults. A missing
// config file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Hub.Retention <= 0 {
		return fmt.Errorf("hub.retention must be positive")
	}
	if c.Hub.SessionBuffer <= 0 {
		return fmt.Errorf("hub.session_buffer must be positive")
	}
	if _, err := model.ParsePriority(c.Alert.MinPriority); err != nil {
		return fmt.Errorf("alert.min_priority: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{Level: c.Level, Pretty: c.Pretty}
}

func (c *SMTPConfig) ToEmailConfig() email.Config {
	return email.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
	}
}

// ToHubConfig builds the hub config; startSeq is the sequence base for
// this process.
func (c *HubConfig) ToHubConfig(startSeq uint64) hub.Config {
	return hub.Config{SessionBuffer: c.SessionBuffer, Retention: c.Retention, StartSeq: startSeq}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
