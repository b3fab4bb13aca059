package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	defaultPort            = "8080"
	defaultDatabaseURL     = "escaperoom.db"
	defaultJWTSecret       = "change-me-jwt-secret"
	defaultJWTTTL          = "12h"
	defaultDisplayTimezone = "Europe/Stockholm"
	defaultHoldStaleAfter  = "30m"
	defaultSweepInterval   = "5m"
	defaultNetsBaseURL     = "https://test.api.dibspayment.eu"
	defaultSwishBaseURL    = "https://mss.cpc.getswish.net/swish-cpcapi"
	defaultProviderTimeout = "15s"
	defaultDispatchWorkers = "4"
	defaultDispatchMax     = "5"
	defaultDispatchBackoff = "2s"
	defaultAnnounceChannel = "slots.events"
)

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	JWTSecret string
	JWTTTL    time.Duration

	DisplayTimezone string
	HoldStaleAfter  time.Duration
	SweepInterval   time.Duration

	NetsBaseURL     string
	NetsSecretKey   string
	NetsWebhookAuth string
	NetsWebhookURL  string
	NetsCheckoutURL string
	NetsTermsURL    string

	SwishBaseURL     string
	SwishPayeeAlias  string
	SwishCallbackURL string
	SwishCertFile    string
	SwishKeyFile     string
	SwishCAFile      string

	ProviderTimeout time.Duration

	RedisAddr       string
	AnnounceChannel string
	RabbitMQURL     string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	AdminEmail   string
	SlackWebhook string
	CORSOrigins  []string

	LogLevel  string
	LogFormat string

	DispatchWorkers     int
	DispatchMaxAttempts int
	DispatchBackoff     time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.Port = getEnv("PORT", defaultPort)
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.DisplayTimezone = getEnv("DISPLAY_TIMEZONE", defaultDisplayTimezone)

	cfg.NetsBaseURL = strings.TrimRight(getEnv("NETS_BASE_URL", defaultNetsBaseURL), "/")
	cfg.NetsSecretKey = os.Getenv("NETS_SECRET_KEY")
	cfg.NetsWebhookAuth = os.Getenv("NETS_WEBHOOK_AUTH")
	cfg.NetsWebhookURL = os.Getenv("NETS_WEBHOOK_URL")
	cfg.NetsCheckoutURL = os.Getenv("NETS_CHECKOUT_URL")
	cfg.NetsTermsURL = os.Getenv("NETS_TERMS_URL")

	cfg.SwishBaseURL = strings.TrimRight(getEnv("SWISH_BASE_URL", defaultSwishBaseURL), "/")
	cfg.SwishPayeeAlias = os.Getenv("SWISH_PAYEE_ALIAS")
	cfg.SwishCallbackURL = os.Getenv("SWISH_CALLBACK_URL")
	cfg.SwishCertFile = os.Getenv("SWISH_CERT_FILE")
	cfg.SwishKeyFile = os.Getenv("SWISH_KEY_FILE")
	cfg.SwishCAFile = os.Getenv("SWISH_CA_FILE")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.AnnounceChannel = getEnv("ANNOUNCE_CHANNEL", defaultAnnounceChannel)
	cfg.RabbitMQURL = os.Getenv("RABBITMQ_URL")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = getEnv("SMTP_PORT", "587")
	cfg.SMTPUser = os.Getenv("SMTP_USER")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.EmailFrom = getEnv("EMAIL_FROM", cfg.SMTPUser)
	cfg.AdminEmail = getEnv("ADMIN_ALERT_EMAIL", cfg.EmailFrom)
	cfg.SlackWebhook = os.Getenv("SLACK_WEBHOOK_URL")
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")

	var err error
	if cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", defaultJWTTTL); err != nil {
		return nil, err
	}
	if cfg.HoldStaleAfter, err = parseDurationEnv("HOLD_STALE_AFTER", defaultHoldStaleAfter); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = parseDurationEnv("PROVIDER_TIMEOUT", defaultProviderTimeout); err != nil {
		return nil, err
	}
	if cfg.DispatchBackoff, err = parseDurationEnv("DISPATCH_BACKOFF", defaultDispatchBackoff); err != nil {
		return nil, err
	}
	if cfg.DispatchWorkers, err = parseIntEnv("DISPATCH_WORKERS", defaultDispatchWorkers); err != nil {
		return nil, err
	}
	if cfg.DispatchMaxAttempts, err = parseIntEnv("DISPATCH_MAX_ATTEMPTS", defaultDispatchMax); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves DisplayTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validateConfig(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.HoldStaleAfter <= 0 {
		return fmt.Errorf("HOLD_STALE_AFTER must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be > 0")
	}
	if cfg.DispatchMaxAttempts <= 0 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be > 0")
	}
	if _, err := time.LoadLocation(cfg.DisplayTimezone); err != nil {
		return fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", cfg.DisplayTimezone, err)
	}
	if (cfg.SwishCertFile == "") != (cfg.SwishKeyFile == "") {
		return fmt.Errorf("SWISH_CERT_FILE and SWISH_KEY_FILE must be set together")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if cfg.NetsWebhookAuth == "" {
			return fmt.Errorf("in prod/release NETS_WEBHOOK_AUTH must be set")
		}
	}
	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
