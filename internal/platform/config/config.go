// Package config builds service configuration from environment variables so
// main stays lean. Per-project thresholds are NOT configured here; they live
// on the project row and are resolved at the start of each operation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Weather  WeatherConfig
	Sync     SyncConfig
	Admin    AdminConfig
	Device   DeviceConfig

	// ComplianceCutoff is the local wall-clock time ("15:04") at which the
	// daily compliance check runs for each project.
	ComplianceCutoff string
}

// HTTPConfig captures HTTP server level configuration.
type HTTPConfig struct {
	Addr string
}

// PostgresConfig captures the central store connection. An empty URL selects
// the in-memory stores (development and tests).
type PostgresConfig struct {
	URL string
}

// RedisConfig captures the Redis connection used for daily-alert idempotency
// and cross-process sync claims. Empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures the audit stream brokers. Empty brokers disable the
// outbox publisher and consumer.
type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string
	ConsumerGroup string
}

// WeatherConfig captures the environmental provider and schedule.
type WeatherConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// FetchTimes are local wall-clock times ("15:04") at which each project's
	// conditions are captured.
	FetchTimes []string
}

// SyncConfig tunes the offline sync worker pool.
type SyncConfig struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
}

// AdminConfig guards the administrative surface.
type AdminConfig struct {
	Token string
}

// DeviceConfig configures field-device token issuance.
type DeviceConfig struct {
	JWTSigningKey string
	TokenTTL      time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr: envString("SITEGATE_ADDR", ":8080"),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("SITEGATE_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("SITEGATE_REDIS_URL"),
			PoolSize:     envInt("SITEGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("SITEGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("SITEGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("SITEGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("SITEGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       envList("SITEGATE_KAFKA_BROKERS"),
			AuditTopic:    envString("SITEGATE_AUDIT_TOPIC", "sitegate.audit"),
			ConsumerGroup: envString("SITEGATE_AUDIT_CONSUMER_GROUP", "sitegate-audit-materializer"),
		},
		Weather: WeatherConfig{
			Endpoint: envString("SITEGATE_WEATHER_ENDPOINT", "https://api.openweathermap.org/data/2.5/weather"),
			APIKey:   os.Getenv("SITEGATE_WEATHER_API_KEY"),
			Timeout:  envDuration("SITEGATE_WEATHER_TIMEOUT", 10*time.Second),
			FetchTimes: envListDefault("SITEGATE_WEATHER_FETCH_TIMES",
				[]string{"06:00", "12:00"}),
		},
		Sync: SyncConfig{
			Workers:     envInt("SITEGATE_SYNC_WORKERS", 4),
			MaxAttempts: envInt("SITEGATE_SYNC_MAX_ATTEMPTS", 5),
			BaseBackoff: envDuration("SITEGATE_SYNC_BASE_BACKOFF", time.Second),
		},
		Admin: AdminConfig{
			Token: os.Getenv("SITEGATE_ADMIN_TOKEN"),
		},
		Device: DeviceConfig{
			JWTSigningKey: envString("SITEGATE_DEVICE_JWT_KEY", "dev-secret-key-change-in-production"),
			TokenTTL:      envDuration("SITEGATE_DEVICE_TOKEN_TTL", 12*time.Hour),
		},
		ComplianceCutoff: envString("SITEGATE_COMPLIANCE_CUTOFF", "10:00"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envListDefault(key string, fallback []string) []string {
	if v := envList(key); len(v) > 0 {
		return v
	}
	return fallback
}
