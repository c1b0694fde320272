package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string
	Timezone string
	APIToken string

	// Blood donation service account
	BloodDonorUsername       string
	BloodDonorPassword       string
	BloodDonorBaseURL        string
	BloodDonorAuthTimeout    time.Duration
	BloodDonorRequestTimeout time.Duration

	// Refresh cadence
	StandardRefreshInterval    time.Duration
	AppointmentRefreshInterval time.Duration

	// Booking helper defaults
	DefaultTargetTime       string
	DefaultToleranceHours   float64
	DefaultMinDaysFromLast  int
	DefaultVenueMaxDistance float64

	// Booking guard
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	BookingLockTTL time.Duration

	// Notifications
	NotifyEmailTo       string
	EmailProvider       string
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string
	SESFromEmail        string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Local API protection
	APIRateLimit       float64
	APIRateBurst       int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TIMEZONE", "Europe/London"),
		APIToken: getEnv("API_TOKEN", ""),

		BloodDonorUsername:       getEnv("BLOOD_DONOR_USERNAME", ""),
		BloodDonorPassword:       getEnv("BLOOD_DONOR_PASSWORD", ""),
		BloodDonorBaseURL:        getEnv("BLOOD_DONOR_BASE_URL", "https://my.blood.co.uk"),
		BloodDonorAuthTimeout:    getEnvAsDuration("BLOOD_DONOR_AUTH_TIMEOUT", 10*time.Second),
		BloodDonorRequestTimeout: getEnvAsDuration("BLOOD_DONOR_REQUEST_TIMEOUT", 30*time.Second),

		StandardRefreshInterval:    getEnvAsDuration("STANDARD_REFRESH_INTERVAL", 24*time.Hour),
		AppointmentRefreshInterval: getEnvAsDuration("APPOINTMENT_REFRESH_INTERVAL", time.Hour),

		DefaultTargetTime:       getEnv("DEFAULT_TARGET_TIME", "12:55"),
		DefaultToleranceHours:   getEnvAsFloat("DEFAULT_TOLERANCE_HOURS", 2.0),
		DefaultMinDaysFromLast:  getEnvAsInt("DEFAULT_MIN_DAYS_FROM_LAST", 14),
		DefaultVenueMaxDistance: getEnvAsFloat("DEFAULT_VENUE_MAX_DISTANCE", 20.0),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		BookingLockTTL: getEnvAsDuration("BOOKING_LOCK_TTL", 2*time.Minute),

		NotifyEmailTo:       getEnv("NOTIFY_EMAIL_TO", ""),
		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "Blood Donor Assistant"),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		AWSRegion:           getEnv("AWS_REGION", "eu-west-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		APIRateLimit: getEnvAsFloat("API_RATE_LIMIT", 5),
		APIRateBurst: getEnvAsInt("API_RATE_BURST", 10),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate reports missing settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BloodDonorUsername) == "" {
		errs = append(errs, errors.New("BLOOD_DONOR_USERNAME is required"))
	}
	if c.BloodDonorPassword == "" {
		errs = append(errs, errors.New("BLOOD_DONOR_PASSWORD is required"))
	}
	if c.StandardRefreshInterval <= 0 || c.AppointmentRefreshInterval <= 0 {
		errs = append(errs, errors.New("refresh intervals must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvAsSlice(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
