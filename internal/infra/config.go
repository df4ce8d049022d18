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
	DatabaseURL string
	JWTSecret   string

	// CallbackBaseURL is the externally reachable base of the provider push
	// endpoint; per-provider paths are appended on submission.
	CallbackBaseURL string
	CallbackSecret  string

	GeoIPDBPath string

	FluxAPIKey  string
	FluxBaseURL string
	VeoAPIKey   string
	VeoBaseURL  string
	SoraAPIKey  string
	SoraBaseURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	// Reconciler cadence: active while non-terminal tasks exist, idle
	// otherwise. MinAge keeps freshly submitted jobs off the poll path long
	// enough for their callback to arrive first.
	ReconcileActiveInterval time.Duration
	ReconcileIdleInterval   time.Duration
	ReconcileMinAge         time.Duration
	ReconcileBatchSize      int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080/v1/callbacks"),
		CallbackSecret:  os.Getenv("CALLBACK_SECRET"),
		GeoIPDBPath:     os.Getenv("GEOIP_DB_PATH"),

		FluxAPIKey:  os.Getenv("FLUX_API_KEY"),
		FluxBaseURL: getEnv("FLUX_BASE_URL", "https://api.flux.example.com"),
		VeoAPIKey:   os.Getenv("VEO_API_KEY"),
		VeoBaseURL:  getEnv("VEO_BASE_URL", "https://api.veo.example.com"),
		SoraAPIKey:  os.Getenv("SORA_API_KEY"),
		SoraBaseURL: getEnv("SORA_BASE_URL", "https://api.sora.example.com"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		ReconcileActiveInterval: time.Second * time.Duration(getEnvInt("RECONCILE_ACTIVE_INTERVAL_SECONDS", 3)),
		ReconcileIdleInterval:   time.Second * time.Duration(getEnvInt("RECONCILE_IDLE_INTERVAL_SECONDS", 10)),
		ReconcileMinAge:         time.Second * time.Duration(getEnvInt("RECONCILE_MIN_AGE_SECONDS", 30)),
		ReconcileBatchSize:      getEnvInt("RECONCILE_BATCH_SIZE", 50),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
