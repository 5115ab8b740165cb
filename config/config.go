package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string
	AppName string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Storage (S3/R2)
	S3Endpoint         string
	S3AccessKey        string
	S3SecretKey        string
	S3UseSSL           bool
	S3Region           string
	S3BucketPhotos     string
	S3BucketQuarantine string

	// Rekognition (image moderation)
	RekognitionRegion    string
	RekognitionAccessKey string
	RekognitionSecretKey string

	// Moderation pipeline tuning
	ModerationWorkers     int
	ModerationMaxAttempts int
	ModerationBackoffBase time.Duration
	ModerationJobTimeout  time.Duration
	ModerationThreshold   float64
	ModerationAutoReject  bool
	ModerationWebhookURL  string
	ReportRateLimitPerDay int

	// JWT (admin/operator endpoints)
	JWTSecret string
}

func LoadConfig() *Config {
	// Load .env file if it exists (for local non-docker dev)
	_ = godotenv.Load()

	return &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		AppName: getEnv("APP_NAME", "Eventpix API"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "eventpix"),
		DBPassword: getEnv("DB_PASSWORD", "eventpix123"),
		DBName:     getEnv("DB_NAME", "eventpix_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		S3Endpoint:         getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        getEnv("S3_SECRET_KEY", "minioadmin"),
		S3UseSSL:           getEnvAsBool("S3_USE_SSL", false),
		S3Region:           getEnv("S3_REGION", "auto"),
		S3BucketPhotos:     getEnv("S3_BUCKET_PHOTOS", "eventpix-photos"),
		S3BucketQuarantine: getEnv("S3_BUCKET_QUARANTINE", "eventpix-quarantine"),

		RekognitionRegion:    getEnv("REKOGNITION_REGION", ""),
		RekognitionAccessKey: getEnv("REKOGNITION_ACCESS_KEY", ""),
		RekognitionSecretKey: getEnv("REKOGNITION_SECRET_KEY", ""),

		ModerationWorkers:     getEnvAsInt("MODERATION_WORKERS", 3),
		ModerationMaxAttempts: getEnvAsInt("MODERATION_MAX_ATTEMPTS", 3),
		ModerationBackoffBase: getEnvAsDuration("MODERATION_BACKOFF_BASE", 30*time.Second),
		ModerationJobTimeout:  getEnvAsDuration("MODERATION_JOB_TIMEOUT", 5*time.Minute),
		ModerationThreshold:   getEnvAsFloat("MODERATION_CONFIDENCE_THRESHOLD", 0.8),
		ModerationAutoReject:  getEnvAsBool("MODERATION_AUTO_REJECT", true),
		ModerationWebhookURL:  getEnv("MODERATION_WEBHOOK_URL", ""),
		ReportRateLimitPerDay: getEnvAsInt("REPORT_RATE_LIMIT_PER_DAY", 20),

		JWTSecret: getEnv("JWT_SECRET", "secret"),
	}
}

// Validate catches malformed tuning values at startup instead of deep
// inside a worker.
func (c *Config) Validate() error {
	if c.ModerationWorkers <= 0 {
		return fmt.Errorf("MODERATION_WORKERS must be positive, got %d", c.ModerationWorkers)
	}
	if c.ModerationMaxAttempts <= 0 {
		return fmt.Errorf("MODERATION_MAX_ATTEMPTS must be positive, got %d", c.ModerationMaxAttempts)
	}
	if c.ModerationThreshold < 0 || c.ModerationThreshold > 1 {
		return fmt.Errorf("MODERATION_CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ModerationThreshold)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
