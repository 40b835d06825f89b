package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// AdminToken authenticates platform admins; SchedulerToken authenticates
	// the scheduled-job caller.
	AdminToken     string
	SchedulerToken string

	HTTPAddr string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit      RateLimitConfig
	Processor      ProcessorConfig
	AdGraph        AdGraphConfig
	Reconciliation ReconciliationConfig
	Backfill       BackfillConfig
}

// RateLimitConfig controls the redis-backed throttle on trigger endpoints.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TriggerRate  float64
	TriggerBurst int
}

// ProcessorConfig points at the payment-processor export API.
type ProcessorConfig struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// AdGraphConfig points at the ad-platform graph API.
type AdGraphConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ReconciliationConfig holds drift-detection thresholds.
type ReconciliationConfig struct {
	LookbackDays     int
	PercentThreshold float64
	AbsoluteCents    int64
}

// BackfillConfig holds chunking defaults for historical ingestion.
type BackfillConfig struct {
	DefaultDaysBack      int
	DefaultChunkSizeDays int
	MaxAttempts          int
	InterChunkDelay      time.Duration
	MinutesPerChunk      int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:        getenv("APP_SERVICE", "groundsignal"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		AdminToken:     strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		SchedulerToken: strings.TrimSpace(getenv("SCHEDULER_TOKEN", "")),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "groundsignal"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			TriggerRate:   getenvFloat("RATE_LIMIT_TRIGGER_RATE", 0.2),
			TriggerBurst:  getenvInt("RATE_LIMIT_TRIGGER_BURST", 3),
		},
		Processor: ProcessorConfig{
			BaseURL:      getenv("PROCESSOR_API_URL", "https://exports.processor.example.com"),
			Timeout:      getenvDuration("PROCESSOR_API_TIMEOUT", 30*time.Second),
			PollInterval: getenvDuration("PROCESSOR_POLL_INTERVAL", 5*time.Second),
			MaxPolls:     getenvInt("PROCESSOR_MAX_POLLS", 24),
		},
		AdGraph: AdGraphConfig{
			BaseURL: getenv("ADGRAPH_API_URL", "https://graph.adplatform.example.com"),
			Timeout: getenvDuration("ADGRAPH_API_TIMEOUT", 20*time.Second),
		},
		Reconciliation: ReconciliationConfig{
			LookbackDays:     getenvInt("RECONCILE_LOOKBACK_DAYS", 7),
			PercentThreshold: getenvFloat("RECONCILE_PERCENT_THRESHOLD", 0.01),
			AbsoluteCents:    getenvInt64("RECONCILE_ABSOLUTE_CENTS", 10000),
		},
		Backfill: BackfillConfig{
			DefaultDaysBack:      getenvInt("BACKFILL_DEFAULT_DAYS_BACK", 365),
			DefaultChunkSizeDays: getenvInt("BACKFILL_DEFAULT_CHUNK_DAYS", 30),
			MaxAttempts:          getenvInt("BACKFILL_MAX_ATTEMPTS", 3),
			InterChunkDelay:      getenvDuration("BACKFILL_INTER_CHUNK_DELAY", 2*time.Second),
			MinutesPerChunk:      getenvInt("BACKFILL_MINUTES_PER_CHUNK", 2),
		},
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
