package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/tablepulse/internal/domain"
	"go-simpler.org/env"
)

// Relay backends.
const (
	RelayLocal = "local"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	Port         string `env:"PORT" default:"8080"`
	AppURL       string `env:"APP_URL" default:"http://localhost:8080"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`
	NatsURL      string `env:"NATS_URL"`
	RelayBackend string `env:"RELAY_BACKEND" default:"local"`
	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`

	SessionCookieName string `env:"SESSION_COOKIE_NAME" default:"tablepulse.sid"`
	SessionSecret     string `env:"SESSION_SECRET"`
	AdminToken        string `env:"ADMIN_TOKEN"`

	MaxConnectionsPerTenant int           `env:"MAX_CONNECTIONS_PER_TENANT" default:"500"`
	HeartbeatInterval       time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout        time.Duration `env:"HEARTBEAT_TIMEOUT" default:"60s"`
	MessageRateLimit        int           `env:"MESSAGE_RATE_LIMIT" default:"60"`
	MessageRateWindow       time.Duration `env:"MESSAGE_RATE_WINDOW" default:"60s"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"10"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"20"`

	ScheduleOpen        string `env:"SCHEDULE_OPEN" default:"17:00"`
	ScheduleSlotMinutes int    `env:"SCHEDULE_SLOT_MINUTES" default:"60"`
	ScheduleSlots       int    `env:"SCHEDULE_SLOTS" default:"6"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SlotLayout returns the configured operating-hour grid rows.
func (c *Config) SlotLayout() domain.SlotLayout {
	return domain.SlotLayout{Open: c.ScheduleOpen, SlotMinutes: c.ScheduleSlotMinutes, Slots: c.ScheduleSlots}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	switch cfg.RelayBackend {
	case RelayLocal:
	case RelayRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when RELAY_BACKEND=redis")
		}
	case RelayNATS:
		if cfg.NatsURL == "" {
			return errors.New("NATS_URL is required when RELAY_BACKEND=nats")
		}
	default:
		return fmt.Errorf("RELAY_BACKEND must be one of local, redis, nats, got %q", cfg.RelayBackend)
	}

	if cfg.IsProduction() {
		if cfg.SessionSecret == "" {
			return errors.New("SESSION_SECRET is required in production")
		}
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return errors.New("HEARTBEAT_TIMEOUT must be longer than HEARTBEAT_INTERVAL")
	}
	if cfg.MessageRateLimit <= 0 || cfg.MessageRateWindow <= 0 {
		return errors.New("MESSAGE_RATE_LIMIT and MESSAGE_RATE_WINDOW must be positive")
	}
	if cfg.MaxConnectionsPerTenant <= 0 {
		return errors.New("MAX_CONNECTIONS_PER_TENANT must be positive")
	}

	if err := cfg.SlotLayout().Validate(); err != nil {
		return fmt.Errorf("schedule layout: %w", err)
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
