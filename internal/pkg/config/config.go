package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"

	"github.com/ManuelReschke/MealPay/internal/pkg/deadletter"
	"github.com/ManuelReschke/MealPay/internal/pkg/statechange"
	"github.com/ManuelReschke/MealPay/internal/pkg/telemetry"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Webhook     WebhookConfig
	Dunning     DunningConfig
	DeadLetter  deadletter.Config  `envPrefix:"DEADLETTER_"`
	StateChange statechange.Config `envPrefix:"KAFKA_"`
	Telemetry   telemetry.Config
}

type AppConfig struct {
	Host      string `env:"APP_HOST" envDefault:"localhost"`
	Port      string `env:"APP_PORT" envDefault:"4000"`
	Env       string `env:"APP_ENV" envDefault:"prod"`
	BodyLimit int    `env:"APP_BODY_LIMIT" envDefault:"1048576"`

	// Admin webhook endpoints are only mounted when both are set.
	AdminUser     string `env:"ADMIN_USER"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Addr is the listen address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

func (a AppConfig) IsDev() bool { return a.Env == "dev" }

// AdminUsers returns the basic auth users for the admin endpoints.
func (a AppConfig) AdminUsers() map[string]string {
	if a.AdminUser == "" || a.AdminPassword == "" {
		return nil
	}
	return map[string]string{a.AdminUser: a.AdminPassword}
}

type DatabaseConfig struct {
	Driver      string        `env:"DB_DRIVER" envDefault:"mysql"`
	Host        string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port        string        `env:"DB_PORT"`
	User        string        `env:"DB_USER"`
	Password    string        `env:"DB_PASSWORD"`
	Name        string        `env:"DB_NAME" envDefault:"mealpay"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	AutoMigrate bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	MaxRetries  int           `env:"DB_MAX_RETRIES" envDefault:"5"`
	RetryDelay  time.Duration `env:"DB_RETRY_DELAY" envDefault:"5s"`
}

// DefaultPort returns the configured port or the driver's usual one.
func (d DatabaseConfig) DefaultPort() string {
	if d.Port != "" {
		return d.Port
	}
	if d.Driver == "postgres" {
		return "5432"
	}
	return "3306"
}

type CacheConfig struct {
	Host     string `env:"CACHE_HOST" envDefault:"localhost"`
	Port     int    `env:"CACHE_PORT" envDefault:"6379"`
	Password string `env:"CACHE_PASSWORD"`
	DB       int    `env:"CACHE_DB" envDefault:"0"`
	Enabled  bool   `env:"CACHE_ENABLED" envDefault:"true"`
}

type WebhookConfig struct {
	Provider         string        `env:"WEBHOOK_PROVIDER" envDefault:"razorpay"`
	SignatureHeader  string        `env:"WEBHOOK_SIGNATURE_HEADER" envDefault:"X-Razorpay-Signature"`
	EventIDHeader    string        `env:"WEBHOOK_EVENT_ID_HEADER" envDefault:"X-Razorpay-Event-Id"`
	SecretsKey       string        `env:"WEBHOOK_SECRETS_KEY" envDefault:"WEBHOOK_SIGNING_SECRETS"`
	ClaimTTL         time.Duration `env:"WEBHOOK_CLAIM_TTL" envDefault:"10m"`
	SeenTTL          time.Duration `env:"WEBHOOK_SEEN_TTL" envDefault:"72h"`
	RetryEnabled     bool          `env:"WEBHOOK_RETRY_ENABLED" envDefault:"false"`
	RetryWorkers     int           `env:"WEBHOOK_RETRY_WORKERS" envDefault:"2"`
	RetryMaxAttempts int           `env:"WEBHOOK_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff     time.Duration `env:"WEBHOOK_RETRY_BACKOFF" envDefault:"1m"`
}

type DunningConfig struct {
	DefaultMaxAttempts int `env:"DUNNING_MAX_ATTEMPTS" envDefault:"3"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(cenv.Options{})
}

// LoadFrom parses an explicit environment map instead of the process environment.
func LoadFrom(environment map[string]string) (*Config, error) {
	return parse(cenv.Options{Environment: environment})
}

func parse(opts cenv.Options) (*Config, error) {
	cfg := &Config{}
	if err := cenv.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.Webhook.Provider = strings.ToLower(strings.TrimSpace(cfg.Webhook.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (mysql, postgres or memory)", c.Database.Driver)
	}
	if c.Webhook.Provider == "" {
		return errors.New("WEBHOOK_PROVIDER must not be empty")
	}
	if c.Webhook.SignatureHeader == "" {
		return errors.New("WEBHOOK_SIGNATURE_HEADER must not be empty")
	}
	if c.Webhook.SecretsKey == "" {
		return errors.New("WEBHOOK_SECRETS_KEY must not be empty")
	}
	if c.Webhook.ClaimTTL < 0 {
		return errors.New("WEBHOOK_CLAIM_TTL must not be negative")
	}
	if c.Webhook.RetryEnabled {
		if c.Webhook.RetryWorkers <= 0 {
			return errors.New("WEBHOOK_RETRY_WORKERS must be positive when retries are enabled")
		}
		if c.Webhook.RetryMaxAttempts <= 0 {
			return errors.New("WEBHOOK_RETRY_MAX_ATTEMPTS must be positive when retries are enabled")
		}
		if !c.Cache.Enabled {
			return errors.New("the retry queue needs the cache (CACHE_ENABLED=true)")
		}
	}
	if c.Dunning.DefaultMaxAttempts <= 0 {
		return errors.New("DUNNING_MAX_ATTEMPTS must be positive")
	}
	if err := c.DeadLetter.Validate(); err != nil {
		return err
	}
	return c.StateChange.Validate()
}
