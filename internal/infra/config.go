package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	StoreDriver string
	DatabaseURL string
	JWTSecret   string

	CallbackBaseURL string
	KieAPIKey       string
	KieBaseURL      string
	KieModel        string

	StripeWebhookSecret string
	StripeTolerance     time.Duration
	PriceBasicID        string
	PriceProID          string
	BasicCredits        int
	ProCredits          int

	WelcomeCredits  int
	PollInterval    time.Duration
	PollMaxAttempts int

	GeoIPDBPath   string
	DefaultLocale string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		KieAPIKey:       os.Getenv("KIE_API_KEY"),
		KieBaseURL:      getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		KieModel:        getEnv("KIE_MODEL", "veo3_fast"),

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeTolerance:     time.Second * time.Duration(getEnvInt("STRIPE_TOLERANCE_SECONDS", 300)),
		PriceBasicID:        os.Getenv("STRIPE_PRICE_BASIC"),
		PriceProID:          os.Getenv("STRIPE_PRICE_PRO"),
		BasicCredits:        getEnvInt("PLAN_BASIC_CREDITS", 30),
		ProCredits:          getEnvInt("PLAN_PRO_CREDITS", 120),

		WelcomeCredits:  getEnvInt("WELCOME_CREDITS", 1),
		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 30)),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 20),

		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitEnv("ALLOWED_ORIGINS"),
	}

	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver)
	}

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.AppEnv != "development" {
		if cfg.KieAPIKey == "" {
			return nil, fmt.Errorf("KIE_API_KEY is required")
		}
		if cfg.StripeWebhookSecret == "" {
			return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
