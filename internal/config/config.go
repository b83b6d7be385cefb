/**
 * @description
 * This package handles the configuration management for the payments service. It uses the
 * Viper library to read configuration from environment variables and an optional .env file.
 *
 * @notes
 * - Invalid tunables are coerced to their defaults. Each coercion is recorded in Warnings so
 *   main can log it once the logger exists.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments service.
type Config struct {
	Env                     string        `mapstructure:"APP_ENV"`
	LogLevel                string        `mapstructure:"LOG_LEVEL"`
	ServerPort              string        `mapstructure:"SERVER_PORT"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	PayoutLeasePrefix       string        `mapstructure:"PAYOUT_LEASE_PREFIX"`
	RabbitMQURL             string        `mapstructure:"RABBITMQ_URL"`
	EventsExchange          string        `mapstructure:"EVENTS_EXCHANGE"`
	BookingEventQueue       string        `mapstructure:"PAYMENTS_BOOKING_EVENT_QUEUE"`
	StripeSecretKey         string        `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBaseURL        string        `mapstructure:"STRIPE_API_BASE_URL"`
	WebhookTolerance        time.Duration `mapstructure:"STRIPE_WEBHOOK_TOLERANCE"`
	ProcessorTimeout        time.Duration `mapstructure:"PROCESSOR_TIMEOUT"`
	BookingServiceURL       string        `mapstructure:"BOOKING_SERVICE_URL"`
	ComplianceServiceURL    string        `mapstructure:"COMPLIANCE_SERVICE_URL"`
	CollaboratorTimeout     time.Duration `mapstructure:"COLLABORATOR_TIMEOUT"`
	InternalAPIKey          string        `mapstructure:"INTERNAL_API_KEY"`
	JWKSURL                 string        `mapstructure:"AUTH_JWKS_URL"`
	JWTIssuer               string        `mapstructure:"AUTH_ISSUER"`
	JWTAudience             string        `mapstructure:"AUTH_AUDIENCE"`
	CORSAllowedOrigins      []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RateLimitPerSecond      float64       `mapstructure:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	PayoutMaxRetries        int           `mapstructure:"PAYOUT_MAX_RETRIES"`
	PayoutBaseBackoff       time.Duration `mapstructure:"PAYOUT_BASE_BACKOFF"`
	PayoutMaxBackoff        time.Duration `mapstructure:"PAYOUT_MAX_BACKOFF"`
	PayoutWorkers           int           `mapstructure:"PAYOUT_WORKERS"`
	PayoutLeaseTTL          time.Duration `mapstructure:"PAYOUT_LEASE_TTL"`
	PayoutScanSchedule      string        `mapstructure:"PAYOUT_SCAN_SCHEDULE"`
	ActionExpirySchedule    string        `mapstructure:"ACTION_EXPIRY_SCHEDULE"`
	StaleProcessingSchedule string        `mapstructure:"STALE_PROCESSING_SCHEDULE"`
	RequiresActionTTL       time.Duration `mapstructure:"REQUIRES_ACTION_TTL"`
	ProcessingStaleAfter    time.Duration `mapstructure:"PROCESSING_STALE_AFTER"`
	SweepBatchSize          int           `mapstructure:"SWEEP_BATCH_SIZE"`
	JobTimeout              time.Duration `mapstructure:"JOB_TIMEOUT"`
	CommissionTiersJSON     string        `mapstructure:"COMMISSION_TIERS_JSON"`

	// CommissionTiers is parsed from CommissionTiersJSON. Empty means the built-in table.
	CommissionTiers []domain.CommissionTier `mapstructure:"-"`
	// Warnings lists values that were invalid and replaced by defaults.
	Warnings []string `mapstructure:"-"`
}

var defaults = map[string]interface{}{
	"APP_ENV":                      "development",
	"LOG_LEVEL":                    "info",
	"SERVER_PORT":                  "8080",
	"PAYOUT_LEASE_PREFIX":          "payments:payout_lease",
	"EVENTS_EXCHANGE":              "marketplace.events",
	"PAYMENTS_BOOKING_EVENT_QUEUE": "payments_service.booking_events",
	"STRIPE_WEBHOOK_TOLERANCE":     "5m",
	"PROCESSOR_TIMEOUT":            "10s",
	"COLLABORATOR_TIMEOUT":         "10s",
	"CORS_ALLOWED_ORIGINS":         "*",
	"RATE_LIMIT_PER_SECOND":        20.0,
	"RATE_LIMIT_BURST":             40,
	"PAYOUT_MAX_RETRIES":           5,
	"PAYOUT_BASE_BACKOFF":          "1m",
	"PAYOUT_MAX_BACKOFF":           "6h",
	"PAYOUT_WORKERS":               4,
	"PAYOUT_LEASE_TTL":             "2m",
	"PAYOUT_SCAN_SCHEDULE":         "@every 1m",
	"ACTION_EXPIRY_SCHEDULE":       "@every 15m",
	"STALE_PROCESSING_SCHEDULE":    "@every 10m",
	"REQUIRES_ACTION_TTL":          "24h",
	"PROCESSING_STALE_AFTER":       "30m",
	"SWEEP_BATCH_SIZE":             100,
	"JOB_TIMEOUT":                  "5m",
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	_ = viper.BindEnv("APP_ENV", "APP_ENV", "ENVIRONMENT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENTS_REDIS_URL")
	_ = viper.BindEnv("PAYOUT_LEASE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYMENTS_BOOKING_EVENT_QUEUE")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_WEBHOOK_TOLERANCE")
	_ = viper.BindEnv("PROCESSOR_TIMEOUT")
	_ = viper.BindEnv("BOOKING_SERVICE_URL")
	_ = viper.BindEnv("COMPLIANCE_SERVICE_URL")
	_ = viper.BindEnv("COLLABORATOR_TIMEOUT")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENTS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("RATE_LIMIT_PER_SECOND")
	_ = viper.BindEnv("RATE_LIMIT_BURST")
	_ = viper.BindEnv("PAYOUT_MAX_RETRIES")
	_ = viper.BindEnv("PAYOUT_BASE_BACKOFF")
	_ = viper.BindEnv("PAYOUT_MAX_BACKOFF")
	_ = viper.BindEnv("PAYOUT_WORKERS")
	_ = viper.BindEnv("PAYOUT_LEASE_TTL")
	_ = viper.BindEnv("PAYOUT_SCAN_SCHEDULE")
	_ = viper.BindEnv("ACTION_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("STALE_PROCESSING_SCHEDULE")
	_ = viper.BindEnv("REQUIRES_ACTION_TTL")
	_ = viper.BindEnv("PROCESSING_STALE_AFTER")
	_ = viper.BindEnv("SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("JOB_TIMEOUT")
	_ = viper.BindEnv("COMMISSION_TIERS_JSON")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			config.Warnings = append(config.Warnings, fmt.Sprintf("failed to read config file; using environment values: %v", err))
		}
		err = nil
	}

	warnings := config.Warnings
	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}
	config.Warnings = warnings

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()

	if raw := strings.TrimSpace(config.CommissionTiersJSON); raw != "" {
		var tiers []domain.CommissionTier
		if err = json.Unmarshal([]byte(raw), &tiers); err != nil {
			return config, fmt.Errorf("invalid COMMISSION_TIERS_JSON: %w", err)
		}
		config.CommissionTiers = tiers
	}

	return config, nil
}

// normalize trims strings and replaces invalid tunables with their defaults.
func (c *Config) normalize() {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)
	c.PayoutLeasePrefix = strings.TrimSpace(c.PayoutLeasePrefix)
	if c.PayoutLeasePrefix == "" {
		c.PayoutLeasePrefix = defaults["PAYOUT_LEASE_PREFIX"].(string)
	}
	if strings.TrimSpace(c.EventsExchange) == "" {
		c.EventsExchange = defaults["EVENTS_EXCHANGE"].(string)
	}

	origins := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, entry := range c.CORSAllowedOrigins {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.CORSAllowedOrigins = origins

	c.positiveInt("PAYOUT_MAX_RETRIES", &c.PayoutMaxRetries)
	c.positiveInt("PAYOUT_WORKERS", &c.PayoutWorkers)
	c.positiveInt("SWEEP_BATCH_SIZE", &c.SweepBatchSize)
	c.positiveInt("RATE_LIMIT_BURST", &c.RateLimitBurst)
	if c.RateLimitPerSecond <= 0 {
		c.warn("RATE_LIMIT_PER_SECOND", c.RateLimitPerSecond)
		c.RateLimitPerSecond = defaults["RATE_LIMIT_PER_SECOND"].(float64)
	}

	c.positiveDuration("PROCESSOR_TIMEOUT", &c.ProcessorTimeout)
	c.positiveDuration("COLLABORATOR_TIMEOUT", &c.CollaboratorTimeout)
	c.positiveDuration("STRIPE_WEBHOOK_TOLERANCE", &c.WebhookTolerance)
	c.positiveDuration("PAYOUT_BASE_BACKOFF", &c.PayoutBaseBackoff)
	c.positiveDuration("PAYOUT_MAX_BACKOFF", &c.PayoutMaxBackoff)
	c.positiveDuration("PAYOUT_LEASE_TTL", &c.PayoutLeaseTTL)
	c.positiveDuration("REQUIRES_ACTION_TTL", &c.RequiresActionTTL)
	c.positiveDuration("PROCESSING_STALE_AFTER", &c.ProcessingStaleAfter)
	c.positiveDuration("JOB_TIMEOUT", &c.JobTimeout)
	if c.PayoutMaxBackoff < c.PayoutBaseBackoff {
		c.warn("PAYOUT_MAX_BACKOFF", c.PayoutMaxBackoff)
		c.PayoutMaxBackoff = c.PayoutBaseBackoff
	}

	c.schedule("PAYOUT_SCAN_SCHEDULE", &c.PayoutScanSchedule)
	c.schedule("ACTION_EXPIRY_SCHEDULE", &c.ActionExpirySchedule)
	c.schedule("STALE_PROCESSING_SCHEDULE", &c.StaleProcessingSchedule)
}

func (c *Config) warn(key string, value interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %v; using default %v", key, value, defaults[key]))
}

func (c *Config) positiveInt(key string, value *int) {
	if *value > 0 {
		return
	}
	c.warn(key, *value)
	*value = defaults[key].(int)
}

func (c *Config) positiveDuration(key string, value *time.Duration) {
	if *value > 0 {
		return
	}
	c.warn(key, *value)
	parsed, _ := time.ParseDuration(defaults[key].(string))
	*value = parsed
}

func (c *Config) schedule(key string, value *string) {
	*value = strings.TrimSpace(*value)
	if _, err := cron.ParseStandard(*value); err == nil {
		return
	}
	c.warn(key, *value)
	*value = defaults[key].(string)
}
