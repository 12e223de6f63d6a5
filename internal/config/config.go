package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Acuity Scheduling
	AcuityBaseURL       string
	AcuityUserID        string
	AcuityAPIKey        string
	AcuityWebhookSecret string
	AcuityTimeout       time.Duration
	AcuityMaxPerSecond  int
	AcuityMaxPerHour    int

	// Availability cache
	AvailabilityCacheTTL     time.Duration
	AppointmentTypesCacheTTL time.Duration

	// Patient field protection (base64-encoded 32 byte keys)
	PHIEncryptionKey string
	PHIIndexKey      string

	AuthJWTSecret string

	// Email delivery
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	ReconcileInterval   time.Duration
	ReconcileWindowDays int
	OutboxPollInterval  time.Duration

	APIRateLimitRPS    float64
	APIRateLimitBurst  int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	apiKey := getEnv("ACUITY_API_KEY", "")
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AcuityBaseURL:       getEnv("ACUITY_BASE_URL", "https://acuityscheduling.com/api/v1"),
		AcuityUserID:        getEnv("ACUITY_USER_ID", ""),
		AcuityAPIKey:        apiKey,
		AcuityWebhookSecret: getEnv("ACUITY_WEBHOOK_SECRET", apiKey),
		AcuityTimeout:       getEnvAsDuration("ACUITY_TIMEOUT", 30*time.Second),
		AcuityMaxPerSecond:  getEnvAsInt("ACUITY_MAX_PER_SECOND", 10),
		AcuityMaxPerHour:    getEnvAsInt("ACUITY_MAX_PER_HOUR", 5000),

		AvailabilityCacheTTL:     getEnvAsDuration("AVAILABILITY_CACHE_TTL", 5*time.Minute),
		AppointmentTypesCacheTTL: getEnvAsDuration("APPOINTMENT_TYPES_CACHE_TTL", 6*time.Hour),

		PHIEncryptionKey: getEnv("PHI_ENCRYPTION_KEY", ""),
		PHIIndexKey:      getEnv("PHI_INDEX_KEY", ""),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Exam Scheduling"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Exam Scheduling"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ReconcileInterval:   getEnvAsDuration("RECONCILE_INTERVAL", 15*time.Minute),
		ReconcileWindowDays: getEnvAsInt("RECONCILE_WINDOW_DAYS", 14),
		OutboxPollInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		APIRateLimitRPS:    getEnvAsFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst:  getEnvAsInt("API_RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate reports every required key the API server cannot start without.
func (c *Config) Validate() error {
	var missing []string
	for _, kv := range [][2]string{
		{"DATABASE_URL", c.DatabaseURL},
		{"ACUITY_USER_ID", c.AcuityUserID},
		{"ACUITY_API_KEY", c.AcuityAPIKey},
		{"PHI_ENCRYPTION_KEY", c.PHIEncryptionKey},
		{"PHI_INDEX_KEY", c.PHIIndexKey},
		{"AUTH_JWT_SECRET", c.AuthJWTSecret},
	} {
		if strings.TrimSpace(kv[1]) == "" {
			missing = append(missing, kv[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.AcuityMaxPerSecond <= 0 || c.AcuityMaxPerHour <= 0 {
		return errors.New("config: ACUITY_MAX_PER_SECOND and ACUITY_MAX_PER_HOUR must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
