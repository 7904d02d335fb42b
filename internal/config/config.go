package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     string
	SSLMode  string
}

// Enabled reports whether enough settings are present to open Postgres.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != "" && c.Name != ""
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type Config struct {
	Port           string
	AllowedOrigins string
	JWTSecret      string

	Database DatabaseConfig
	Redis    RedisConfig

	LogLevel  string
	LogPretty bool

	MaxMessageLength int
	StatusCacheTTL   time.Duration
	TrackerBuffer    int
	RecordRetries    int
	RecordRetryDelay time.Duration

	WSPingInterval time.Duration
	WSDebug        bool
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, p := range strings.Split(c.AllowedOrigins, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("MAX_MESSAGE_LENGTH", 4000)
	v.SetDefault("STATUS_CACHE_TTL", "2m")
	v.SetDefault("TRACKER_BUFFER", 64)
	v.SetDefault("RECORD_RETRIES", 3)
	v.SetDefault("RECORD_RETRY_DELAY", "100ms")
	v.SetDefault("WS_PING_INTERVAL", "30s")
	v.SetDefault("WS_DEBUG", false)
}

// Load reads .env (if present), an optional config file and the environment.
// Environment variables win over file values.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString("PORT"),
		AllowedOrigins: v.GetString("ALLOWED_ORIGINS"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			Port:     v.GetString("DB_PORT"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogPretty:        v.GetBool("LOG_PRETTY"),
		MaxMessageLength: v.GetInt("MAX_MESSAGE_LENGTH"),
		StatusCacheTTL:   v.GetDuration("STATUS_CACHE_TTL"),
		TrackerBuffer:    v.GetInt("TRACKER_BUFFER"),
		RecordRetries:    v.GetInt("RECORD_RETRIES"),
		RecordRetryDelay: v.GetDuration("RECORD_RETRY_DELAY"),
		WSPingInterval:   v.GetDuration("WS_PING_INTERVAL"),
		WSDebug:          v.GetBool("WS_DEBUG"),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.MaxMessageLength < 1 {
		cfg.MaxMessageLength = 4000
	}
	if cfg.TrackerBuffer < 1 {
		cfg.TrackerBuffer = 64
	}
	if cfg.RecordRetries < 1 {
		cfg.RecordRetries = 1
	}
	return cfg, nil
}
