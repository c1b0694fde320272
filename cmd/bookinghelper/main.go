// Command bookinghelper runs the booking helper once and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/blood-donor-assistant/internal/app/bootstrap"
	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	appconfig "github.com/wolfman30/blood-donor-assistant/internal/config"
	"github.com/wolfman30/blood-donor-assistant/internal/matching"
	"github.com/wolfman30/blood-donor-assistant/internal/notify"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/internal/services"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	req, timeout, err := parseRequest(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	cfg := appconfig.Load()
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build booking helper", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	res := svc.BookingHelper(ctx, req)
	if err := writeResult(os.Stdout, res); err != nil {
		logger.Error("failed to write result", "error", err)
		os.Exit(1)
	}
	if !res.Success {
		os.Exit(1)
	}
}

// parseRequest maps flags onto a matching.Request. Numeric flags that were not
// given stay nil so the configured defaults apply.
func parseRequest(args []string, errOut io.Writer) (matching.Request, time.Duration, error) {
	fs := flag.NewFlagSet("bookinghelper", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var req matching.Request
	fs.StringVar(&req.VenueID, "venue", "", "venue id (required)")
	fs.StringVar(&req.TargetDate, "date", "", "target date, YYYY-MM-DD")
	fs.StringVar(&req.TargetDayOfWeek, "day", "", "target day of week, e.g. friday")
	fs.StringVar(&req.TargetTime, "time", "", "target time, HH:MM")
	fs.StringVar(&req.ProcedureCode, "procedure", "", "procedure code, defaults to whole blood")
	fs.BoolVar(&req.AutoBook, "book", false, "book the best slot")
	tolerance := fs.Float64("tolerance", 0, "tolerance window in hours")
	minDays := fs.Int("min-days", 0, "minimum days since the last appointment")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline")

	if err := fs.Parse(args); err != nil {
		return matching.Request{}, 0, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tolerance":
			req.ToleranceHours = tolerance
		case "min-days":
			req.MinDaysFromLastAppointment = minDays
		}
	})
	if req.VenueID == "" {
		fmt.Fprintln(errOut, "bookinghelper: -venue is required")
		fs.Usage()
		return matching.Request{}, 0, flag.ErrHelp
	}
	return req, *timeout, nil
}

func buildService(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*services.Service, func(), error) {
	loc := cfg.Location()
	client, err := blooddonor.New(blooddonor.Config{
		BaseURL:        cfg.BloodDonorBaseURL,
		Credentials:    blooddonor.Credentials{Username: cfg.BloodDonorUsername, Password: cfg.BloodDonorPassword},
		AuthTimeout:    cfg.BloodDonorAuthTimeout,
		RequestTimeout: cfg.BloodDonorRequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	coordinator, err := scheduler.New(scheduler.Config{
		Source:           client,
		StandardInterval: cfg.StandardRefreshInterval,
		NearInterval:     cfg.AppointmentRefreshInterval,
		Location:         loc,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, err
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
	})
	if err != nil {
		return nil, nil, err
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	cleanup := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	sender, err := bootstrap.BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
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
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func writeResult(w io.Writer, res services.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
