package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "BLOOD_DONOR_BASE_URL", "STANDARD_REFRESH_INTERVAL",
		"APPOINTMENT_REFRESH_INTERVAL", "DEFAULT_TARGET_TIME", "DEFAULT_TOLERANCE_HOURS", "DEFAULT_MIN_DAYS_FROM_LAST",
		"EMAIL_PROVIDER", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.BloodDonorBaseURL != "https://my.blood.co.uk" {
		t.Fatalf("expected default base url, got %s", cfg.BloodDonorBaseURL)
	}
	if cfg.BloodDonorAuthTimeout != 10*time.Second || cfg.BloodDonorRequestTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts: %s / %s", cfg.BloodDonorAuthTimeout, cfg.BloodDonorRequestTimeout)
	}
	if cfg.StandardRefreshInterval != 24*time.Hour {
		t.Fatalf("expected 24h standard interval, got %s", cfg.StandardRefreshInterval)
	}
	if cfg.AppointmentRefreshInterval != time.Hour {
		t.Fatalf("expected 1h appointment interval, got %s", cfg.AppointmentRefreshInterval)
	}
	if cfg.DefaultTargetTime != "12:55" || cfg.DefaultToleranceHours != 2.0 || cfg.DefaultMinDaysFromLast != 14 {
		t.Fatalf("unexpected booking defaults: %+v", cfg)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider, got %s", cfg.EmailProvider)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected empty redis addr, got %s", cfg.RedisAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BLOOD_DONOR_USERNAME", "donor@example.com")
	t.Setenv("BLOOD_DONOR_PASSWORD", "secret")
	t.Setenv("APPOINTMENT_REFRESH_INTERVAL", "30m")
	t.Setenv("DEFAULT_TOLERANCE_HOURS", "1.5")
	t.Setenv("DEFAULT_MIN_DAYS_FROM_LAST", "84")
	t.Setenv("EMAIL_PROVIDER", " SendGrid ")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ha.local, ,https://dash.example")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.BloodDonorUsername != "donor@example.com" {
		t.Fatalf("expected username override, got %s", cfg.BloodDonorUsername)
	}
	if cfg.AppointmentRefreshInterval != 30*time.Minute {
		t.Fatalf("expected 30m interval, got %s", cfg.AppointmentRefreshInterval)
	}
	if cfg.DefaultToleranceHours != 1.5 {
		t.Fatalf("expected tolerance override, got %v", cfg.DefaultToleranceHours)
	}
	if cfg.DefaultMinDaysFromLast != 84 {
		t.Fatalf("expected min days override, got %d", cfg.DefaultMinDaysFromLast)
	}
	if cfg.EmailProvider != "sendgrid" {
		t.Fatalf("expected normalized provider, got %q", cfg.EmailProvider)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://dash.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DEFAULT_MIN_DAYS_FROM_LAST", "fourteen")
	t.Setenv("STANDARD_REFRESH_INTERVAL", "daily")
	t.Setenv("DEFAULT_TOLERANCE_HOURS", "abc")
	cfg := Load()
	if cfg.DefaultMinDaysFromLast != 14 {
		t.Fatalf("expected fallback min days, got %d", cfg.DefaultMinDaysFromLast)
	}
	if cfg.StandardRefreshInterval != 24*time.Hour {
		t.Fatalf("expected fallback interval, got %s", cfg.StandardRefreshInterval)
	}
	if cfg.DefaultToleranceHours != 2.0 {
		t.Fatalf("expected fallback tolerance, got %v", cfg.DefaultToleranceHours)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := &Config{StandardRefreshInterval: time.Hour, AppointmentRefreshInterval: time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestLocationFallback(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
	cfg.Timezone = "Europe/London"
	if cfg.Location().String() != "Europe/London" {
		t.Fatalf("expected Europe/London, got %s", cfg.Location())
	}
}
