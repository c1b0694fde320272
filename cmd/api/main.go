package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/blood-donor-assistant/internal/api/router"
	"github.com/wolfman30/blood-donor-assistant/internal/app/bootstrap"
	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	appconfig "github.com/wolfman30/blood-donor-assistant/internal/config"
	"github.com/wolfman30/blood-donor-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/blood-donor-assistant/internal/http/middleware"
	"github.com/wolfman30/blood-donor-assistant/internal/live"
	"github.com/wolfman30/blood-donor-assistant/internal/matching"
	"github.com/wolfman30/blood-donor-assistant/internal/notify"
	"github.com/wolfman30/blood-donor-assistant/internal/observability/metrics"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/internal/services"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting blood donor assistant",
		"env", cfg.Env,
		"port", cfg.Port,
		"timezone", cfg.Timezone,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer a.close()

	go a.coordinator.Run(ctx)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     a.handler,
		ReadTimeout: 15 * time.Second,
		// Booking runs and the live feed can outlast a short write deadline.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler     http.Handler
	coordinator *scheduler.Coordinator
	service     *services.Service
	hub         *live.Hub
	redis       *redis.Client
	done        chan struct{}
}

func (a *app) close() {
	close(a.done)
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// setupMetrics builds a private registry so tests can construct the app repeatedly.
func setupMetrics() (http.Handler, *metrics.DonorMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewDonorMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	loc := cfg.Location()
	metricsHandler, donorMetrics := setupMetrics()

	client, err := blooddonor.New(blooddonor.Config{
		BaseURL:        cfg.BloodDonorBaseURL,
		Credentials:    blooddonor.Credentials{Username: cfg.BloodDonorUsername, Password: cfg.BloodDonorPassword},
		AuthTimeout:    cfg.BloodDonorAuthTimeout,
		RequestTimeout: cfg.BloodDonorRequestTimeout,
		Logger:         logger,
		Metrics:        donorMetrics,
	})
	if err != nil {
		return nil, err
	}

	coordinator, err := scheduler.New(scheduler.Config{
		Source:           client,
		StandardInterval: cfg.StandardRefreshInterval,
		NearInterval:     cfg.AppointmentRefreshInterval,
		Location:         loc,
		Logger:           logger,
		Metrics:          donorMetrics,
	})
	if err != nil {
		return nil, err
	}

	engine, err := matching.New(matching.Config{
		Portal: client,
		Cache:  coordinator,
		Defaults: matching.Defaults{
			TargetTime:      cfg.DefaultTargetTime,
			ToleranceHours:  cfg.DefaultToleranceHours,
			MinDaysFromLast: cfg.DefaultMinDaysFromLast,
		},
		Location: loc,
		Logger:   logger,
		Metrics:  donorMetrics,
	})
	if err != nil {
		return nil, err
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	sender, err := bootstrap.BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	svc, err := services.New(services.Config{
		Portal:      client,
		Cache:       coordinator,
		Helper:      engine,
		Lock:        bootstrap.BuildBookingLock(redisClient, cfg, logger),
		Notifier:    notify.NewNotifier(sender, cfg.NotifyEmailTo, logger),
		MaxDistance: cfg.DefaultVenueMaxDistance,
		Location:    loc,
		Logger:      logger,
		Metrics:     donorMetrics,
	})
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	hub := live.NewHub(coordinator, loc, logger)
	coordinator.Subscribe(hub.Publish)

	done := make(chan struct{})
	handler := router.New(&router.Config{
		Logger:             logger,
		Donor:              handlers.NewDonorHandler(svc, coordinator, loc, logger),
		Live:               hub.HandleWebSocket,
		MetricsHandler:     metricsHandler,
		APIToken:           cfg.APIToken,
		RateLimiter:        httpmiddleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateBurst),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Done:               done,
	})

	return &app{
		handler:     handler,
		coordinator: coordinator,
		service:     svc,
		hub:         hub,
		redis:       redisClient,
		done:        done,
	}, nil
}
