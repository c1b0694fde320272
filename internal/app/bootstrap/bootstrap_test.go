package bootstrap

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/blood-donor-assistant/internal/config"
	"github.com/wolfman30/blood-donor-assistant/internal/guard"
	"github.com/wolfman30/blood-donor-assistant/internal/notify"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	if c := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true); c != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr(), BookingLockTTL: time.Minute}

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	defer client.Close()

	lock := BuildBookingLock(client, cfg, logging.New("error"))
	if _, ok := lock.(*guard.RedisLock); !ok {
		t.Fatalf("expected redis lock, got %T", lock)
	}

	mr.Close()
	if c := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); c != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildBookingLockFallsBackToLocal(t *testing.T) {
	lock := BuildBookingLock(nil, &appconfig.Config{}, logging.New("error"))
	if _, ok := lock.(*guard.LocalLock); !ok {
		t.Fatalf("expected local lock, got %T", lock)
	}
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.New("error")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	tests := []struct {
		name string
		cfg  appconfig.Config
		want string
	}{
		{"stub by default", appconfig.Config{EmailProvider: "stub"}, "*notify.StubEmailSender"},
		{"sendgrid", appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "key", SendGridFromEmail: "a@example.com"}, "*notify.SendGridSender"},
		{"sendgrid without key", appconfig.Config{EmailProvider: "sendgrid"}, "*notify.StubEmailSender"},
		{"ses", appconfig.Config{EmailProvider: "ses", SESFromEmail: "a@example.com", AWSRegion: "eu-west-2", AWSAccessKeyID: "test", AWSSecretAccessKey: "test", AWSEndpointOverride: "http://localhost:4566"}, "*notify.SESSender"},
		{"ses without sender", appconfig.Config{EmailProvider: "ses"}, "*notify.StubEmailSender"},
		{"unknown", appconfig.Config{EmailProvider: "pigeon"}, "*notify.StubEmailSender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			sender, err := BuildEmailSender(context.Background(), &cfg, logger)
			if err != nil {
				t.Fatalf("BuildEmailSender: %v", err)
			}
			if got := typeName(sender); got != tt.want {
				t.Fatalf("sender = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := BuildEmailSender(context.Background(), nil, logger); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func typeName(s notify.EmailSender) string {
	switch s.(type) {
	case *notify.StubEmailSender:
		return "*notify.StubEmailSender"
	case *notify.SendGridSender:
		return "*notify.SendGridSender"
	case *notify.SESSender:
		return "*notify.SESSender"
	default:
		return "unknown"
	}
}
