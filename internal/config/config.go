// Package config loads the storefront configuration from YAML with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"boutique/internal/util"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// State store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMinio    = "minio"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port       string `yaml:"port"`
	LogLevel   string `yaml:"logLevel"`
	AppBaseURL string `yaml:"appBaseURL"`

	CMSBaseURL string `yaml:"cmsBaseURL"`
	// CMSToken is the service token used for webhook-driven user
	// updates; user-facing routes forward the caller's own JWT.
	CMSToken string `yaml:"cmsToken"`

	StateStore string `yaml:"stateStore"`
	StateDir   string `yaml:"stateDir"`
	StateTTL   string `yaml:"stateTTL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	DatabaseURL   string `yaml:"databaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	StripeSecretKey     string `yaml:"stripeSecretKey"`
	StripeWebhookSecret string `yaml:"stripeWebhookSecret"`

	SendgridAPIKey string `yaml:"sendgridApiKey"`
	MailFrom       string `yaml:"mailFrom"`
	MailFromName   string `yaml:"mailFromName"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	OutboxStream     string `yaml:"outboxStream"`
	OutboxGroup      string `yaml:"outboxGroup"`
	OutboxMaxRetries int    `yaml:"outboxMaxRetries"`

	AuthRateLimitPerMinute int `yaml:"authRateLimitPerMinute"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.AppBaseURL = v
	}
	if v := os.Getenv("CMS_BASE_URL"); v != "" {
		cfg.CMSBaseURL = v
	}
	if v := os.Getenv("CMS_TOKEN"); v != "" {
		cfg.CMSToken = v
	}
	if v := os.Getenv("STATE_STORE"); v != "" {
		cfg.StateStore = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.StripeSecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.StripeWebhookSecret = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendgridAPIKey = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.MailFrom = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AUTH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuthRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logLevel %q must be one of debug, info, warn, error", cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.CMSBaseURL) == "" {
		return errors.New("config: cmsBaseURL is required (set CMS_BASE_URL)")
	}
	if strings.TrimSpace(cfg.AppBaseURL) == "" {
		return errors.New("config: appBaseURL is required for checkout redirect URLs")
	}
	switch cfg.StateStore {
	case "", StoreMemory:
	case StoreFile:
		if cfg.StateDir == "" {
			return errors.New("config: stateDir is required for the file state store")
		}
	case StoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis state store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres state store")
		}
	case StoreMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio state store")
		}
	default:
		return fmt.Errorf("config: stateStore %q must be one of memory, file, redis, postgres, minio", cfg.StateStore)
	}
	if cfg.StripeSecretKey == "" {
		return errors.New("config: stripeSecretKey is required (set STRIPE_SECRET_KEY)")
	}
	if cfg.SendgridAPIKey != "" && cfg.MailFrom == "" {
		return errors.New("config: mailFrom is required when sendgridApiKey is set")
	}
	if cfg.AuthRateLimitPerMinute < 0 {
		return errors.New("config: authRateLimitPerMinute must be >= 0")
	}
	if cfg.AuthRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when authRateLimitPerMinute is set")
	}
	if cfg.OutboxStream != "" && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when outboxStream is set")
	}
	if _, err := util.NewTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("config: trustedProxies entry is not a CIDR or IP: %w", err)
	}
	return nil
}

// ParseStateTTL parses the optional state-slot TTL duration string.
func ParseStateTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid stateTTL duration: %w", err)
	}
	return dur, nil
}
