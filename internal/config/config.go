package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultHTTPPort         = "8080"
	defaultDatabaseURL      = "innkeeper.db"
	defaultJWTSecret        = "change-me-jwt-secret"
	defaultJWTTTL           = "24h"
	defaultInternalToken    = "change-me-internal-token"
	defaultEventsDriver     = "none"
	defaultRabbitExchange   = "innkeeper.events"
	defaultKafkaTopic       = "innkeeper.events"
	defaultTxMaxAttempts    = 3
	defaultNoShowSchedule   = "15 3 * * *"
	defaultArchiveSchedule  = "45 3 * * *"
	defaultArchiveRetention = "2160h"
	defaultLogLevel         = "info"
)

type Config struct {
	AppEnv             string        `mapstructure:"APP_ENV"`
	HTTPPort           string        `mapstructure:"HTTP_PORT"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	JWTTTL             time.Duration `mapstructure:"JWT_TTL"`
	InternalToken      string        `mapstructure:"INTERNAL_TOKEN"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	EventsDriver       string        `mapstructure:"EVENTS_DRIVER"`
	RabbitMQURL        string        `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange   string        `mapstructure:"RABBITMQ_EXCHANGE"`
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic         string        `mapstructure:"KAFKA_TOPIC"`
	TxMaxAttempts      int           `mapstructure:"TX_MAX_ATTEMPTS"`
	NoShowSchedule     string        `mapstructure:"NO_SHOW_SCHEDULE"`
	ArchiveSchedule    string        `mapstructure:"ARCHIVE_SCHEDULE"`
	ArchiveRetention   time.Duration `mapstructure:"ARCHIVE_RETENTION"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var envKeys = []string{
	"APP_ENV", "HTTP_PORT", "DATABASE_URL", "JWT_SECRET", "JWT_TTL", "INTERNAL_TOKEN",
	"REDIS_URL", "EVENTS_DRIVER", "RABBITMQ_URL", "RABBITMQ_EXCHANGE", "KAFKA_BROKERS",
	"KAFKA_TOPIC", "TX_MAX_ATTEMPTS", "NO_SHOW_SCHEDULE", "ARCHIVE_SCHEDULE",
	"ARCHIVE_RETENTION", "LOG_LEVEL", "CORS_ALLOWED_ORIGINS",
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	_ = v.BindEnv("HTTP_PORT", "HTTP_PORT", "PORT")
	_ = v.BindEnv("APP_ENV", "APP_ENV", "ENV")

	return parse(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("HTTP_PORT", defaultHTTPPort)
	v.SetDefault("DATABASE_URL", defaultDatabaseURL)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_TTL", defaultJWTTTL)
	v.SetDefault("INTERNAL_TOKEN", defaultInternalToken)
	v.SetDefault("EVENTS_DRIVER", defaultEventsDriver)
	v.SetDefault("RABBITMQ_EXCHANGE", defaultRabbitExchange)
	v.SetDefault("KAFKA_TOPIC", defaultKafkaTopic)
	v.SetDefault("TX_MAX_ATTEMPTS", defaultTxMaxAttempts)
	v.SetDefault("NO_SHOW_SCHEDULE", defaultNoShowSchedule)
	v.SetDefault("ARCHIVE_SCHEDULE", defaultArchiveSchedule)
	v.SetDefault("ARCHIVE_RETENTION", defaultArchiveRetention)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
}

func parse(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.EventsDriver = strings.ToLower(strings.TrimSpace(cfg.EventsDriver))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must not be empty")
	}
	if cfg.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be > 0")
	}
	if cfg.TxMaxAttempts < 1 {
		return errors.New("TX_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.ArchiveRetention <= 0 {
		return errors.New("ARCHIVE_RETENTION must be > 0")
	}

	switch cfg.EventsDriver {
	case "none", "":
		cfg.EventsDriver = "none"
	case "rabbitmq":
		if strings.TrimSpace(cfg.RabbitMQURL) == "" {
			return errors.New("RABBITMQ_URL is required when EVENTS_DRIVER=rabbitmq")
		}
	case "kafka":
		if strings.TrimSpace(cfg.KafkaBrokers) == "" {
			return errors.New("KAFKA_BROKERS is required when EVENTS_DRIVER=kafka")
		}
	default:
		return fmt.Errorf("EVENTS_DRIVER must be one of: none, rabbitmq, kafka (got %q)", cfg.EventsDriver)
	}

	if cfg.IsProdLike() {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return errors.New("in prod/release JWT_SECRET must be set and not default")
		}
		if isEmptyOrDefault(cfg.InternalToken, defaultInternalToken) {
			return errors.New("in prod/release INTERNAL_TOKEN must be set and not default")
		}
		if !cfg.IsPostgres() {
			return errors.New("in prod/release DATABASE_URL must point to PostgreSQL")
		}
	}
	return nil
}

func (c *Config) IsProdLike() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production" || c.AppEnv == "release"
}

func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}
