package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"healthloop/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Analysis  AnalysisConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
	LogLevel  string
}

// DatabaseConfig selects the storage backend. The memory driver needs no URL.
type DatabaseConfig struct {
	Driver       string `validate:"oneof=memory postgres"`
	URL          string `validate:"required_if=Driver postgres"`
	MaxOpenConns int    `validate:"gte=1"`
	MaxIdleConns int    `validate:"gte=0"`
	MigrateOnRun bool
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port         string        `validate:"required"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
}

// AnalysisConfig carries the thresholds operators may tune. RunInterval
// paces the server's batch loop; zero disables it.
type AnalysisConfig struct {
	MinBaselineDays    int     `validate:"gte=3"`
	LookbackDays       int     `validate:"gtefield=MinBaselineDays"`
	StaleAfterDays     int     `validate:"gte=1"`
	FDRAlpha           float64 `validate:"gt=0,lt=1"`
	MaxLag             int     `validate:"gte=0,lte=14"`
	MinPairs           int     `validate:"gte=4"`
	AttributionDays    int     `validate:"gte=7"`
	MaxExtensions      int     `validate:"gte=0"`
	ExtensionDays      int     `validate:"gte=1"`
	Concurrency        int     `validate:"gte=1"`
	BaselineCacheSize  int     `validate:"gte=1"`
	MetricRegistryFile string
	RunInterval        time.Duration `validate:"gte=0"`
}

// RedisConfig enables the shared run ledger when Addr is set
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int           `validate:"gte=0"`
	LedgerTTL time.Duration `validate:"gt=0"`
}

// KafkaConfig enables audit streaming when Brokers is non-empty
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string `validate:"required_with=Brokers"`
}

// TelemetryConfig configures tracing
type TelemetryConfig struct {
	ServiceName  string  `validate:"required"`
	Environment  string  `validate:"required"`
	SamplingRate float64 `validate:"gte=0,lte=1"`
	OTLPEndpoint string
	Insecure     bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Database:  loadDatabaseConfig(),
		Server:    loadServerConfig(),
		Analysis:  loadAnalysisConfig(),
		Redis:     loadRedisConfig(),
		Kafka:     loadKafkaConfig(),
		Telemetry: loadTelemetryConfig(),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "INFO"),
	}
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every sub-config's struct tags
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func loadDatabaseConfig() DatabaseConfig {
	url := os.Getenv("DATABASE_URL")
	driver := "memory"
	if url != "" {
		driver = "postgres"
	}
	return DatabaseConfig{
		Driver:       getEnvOrDefault("DB_DRIVER", driver),
		URL:          url,
		MaxOpenConns: getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns: getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		MigrateOnRun: getEnvBoolOrDefault("DB_MIGRATE", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:         getEnvOrDefault("PORT", "8080"),
		ReadTimeout:  getEnvDurationOrDefault("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getEnvDurationOrDefault("HTTP_WRITE_TIMEOUT", 30*time.Second),
	}
}

func loadAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MinBaselineDays:    getEnvIntOrDefault("MIN_BASELINE_DAYS", 14),
		LookbackDays:       getEnvIntOrDefault("BASELINE_LOOKBACK_DAYS", 30),
		StaleAfterDays:     getEnvIntOrDefault("STALE_AFTER_DAYS", 3),
		FDRAlpha:           getEnvFloatOrDefault("FDR_ALPHA", 0.05),
		MaxLag:             getEnvIntOrDefault("ATTRIBUTION_MAX_LAG", 3),
		MinPairs:           getEnvIntOrDefault("ATTRIBUTION_MIN_PAIRS", 14),
		AttributionDays:    getEnvIntOrDefault("ATTRIBUTION_WINDOW_DAYS", 60),
		MaxExtensions:      getEnvIntOrDefault("MAX_EXTENSIONS", 2),
		ExtensionDays:      getEnvIntOrDefault("EXTENSION_DAYS", 7),
		Concurrency:        getEnvIntOrDefault("RUN_CONCURRENCY", 8),
		BaselineCacheSize:  getEnvIntOrDefault("BASELINE_CACHE_SIZE", 4096),
		MetricRegistryFile: getEnvOrDefault("METRIC_REGISTRY_FILE", ""),
		RunInterval:        getEnvDurationOrDefault("RUN_INTERVAL", 24*time.Hour),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      getEnvOrDefault("REDIS_ADDR", ""),
		Password:  getEnvOrDefault("REDIS_PASSWORD", ""),
		DB:        getEnvIntOrDefault("REDIS_DB", 0),
		LedgerTTL: getEnvDurationOrDefault("RUN_LEDGER_TTL", 36*time.Hour),
	}
}

func loadKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:    getEnvListOrDefault("KAFKA_BROKERS", nil),
		AuditTopic: getEnvOrDefault("KAFKA_AUDIT_TOPIC", "healthloop.audit"),
	}
}

func loadTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", "healthloop"),
		Environment:  getEnvOrDefault("APP_ENV", "development"),
		OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:     getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", true),
		SamplingRate: getEnvFloatOrDefault("OTEL_SAMPLING_RATE", 1.0),
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// comma separated, blanks dropped
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
