package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Admission configuration
	OfferTTL        time.Duration
	MaxJoinAttempts int
	JoinWindow      time.Duration
	AuditTTL        time.Duration

	// Scheduler configuration
	SweepInterval          time.Duration
	PositionUpdateInterval time.Duration

	// Ops server
	EnableMetrics   bool
	MetricsPort     string
	AdminAPIKeyHash string
}

func LoadConfig() *Config {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Admission
		OfferTTL:        getEnvAsDuration("OFFER_TTL", "15m"),
		MaxJoinAttempts: getEnvAsInt("MAX_JOIN_ATTEMPTS", 3),
		JoinWindow:      getEnvAsDuration("JOIN_ATTEMPT_WINDOW", "30m"),
		AuditTTL:        getEnvAsDuration("AUDIT_TTL", "72h"),

		// Scheduler
		SweepInterval:          getEnvAsDuration("SWEEP_INTERVAL", "15s"),
		PositionUpdateInterval: getEnvAsDuration("POSITION_UPDATE_INTERVAL", "5s"),

		// Ops server
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:     getEnv("METRICS_PORT", ":9090"),
		AdminAPIKeyHash: getEnv("ADMIN_API_KEY_HASH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
