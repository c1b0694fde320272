package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/observability/metrics"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

const (
	defaultStandardInterval = 24 * time.Hour
	defaultNearInterval     = time.Hour
)

// ErrUpdateFailed is returned by Refresh when the account could not be fetched.
var ErrUpdateFailed = errors.New("scheduler: update failed")

var tracer = otel.Tracer("blooddonor.internal.scheduler")

// DataSource fetches the combined account view.
type DataSource interface {
	GetData(ctx context.Context) (*blooddonor.Data, error)
}

// Snapshot is the cached account state. Values stored in a snapshot are never
// mutated after the refresh that produced them.
type Snapshot struct {
	Account           *blooddonor.AccountDetails `json:"account,omitempty"`
	Awards            *blooddonor.Awards         `json:"awards,omitempty"`
	UpdatedAt         time.Time                  `json:"updated_at"`
	LastUpdateSuccess bool                       `json:"last_update_success"`
	LastError         string                     `json:"last_error,omitempty"`
}

func (s Snapshot) HasData() bool { return s.Account != nil }

func (s Snapshot) Appointments() []blooddonor.Appointment {
	if s.Account == nil {
		return nil
	}
	return s.Account.Appointments
}

type Config struct {
	Source           DataSource
	StandardInterval time.Duration
	NearInterval     time.Duration
	Location         *time.Location
	Logger           *logging.Logger
	Metrics          *metrics.DonorMetrics
	Clock            func() time.Time
}

// Coordinator owns the account snapshot and the periodic refresh loop.
type Coordinator struct {
	source   DataSource
	standard time.Duration
	near     time.Duration
	loc      *time.Location
	logger   *logging.Logger
	metrics  *metrics.DonorMetrics
	now      func() time.Time

	refreshMu sync.Mutex

	mu        sync.RWMutex
	snapshot  Snapshot
	interval  time.Duration
	listeners []func(Snapshot)

	reset chan time.Duration
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Source == nil {
		return nil, errors.New("scheduler: data source is required")
	}
	if cfg.StandardInterval <= 0 {
		cfg.StandardInterval = defaultStandardInterval
	}
	if cfg.NearInterval <= 0 {
		cfg.NearInterval = defaultNearInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	c := &Coordinator{
		source:   cfg.Source,
		standard: cfg.StandardInterval,
		near:     cfg.NearInterval,
		loc:      cfg.Location,
		logger:   cfg.Logger.With("component", "scheduler"),
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		interval: cfg.StandardInterval,
		reset:    make(chan time.Duration, 1),
	}
	c.metrics.SetRefreshInterval(c.interval)
	return c, nil
}

// Snapshot returns a copy of the current cached state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Coordinator) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// Subscribe registers fn to be called with the new snapshot after every
// successful refresh.
func (c *Coordinator) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Refresh fetches fresh account data. On failure the previous data is kept
// but marked stale and ErrUpdateFailed is returned.
func (c *Coordinator) Refresh(ctx context.Context) (err error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, span := tracer.Start(ctx, "scheduler.refresh")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during refresh", "panic", r)
			err = c.markFailed(fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
		}
	}()

	data, fetchErr := c.source.GetData(ctx)
	if fetchErr != nil || data == nil || data.Account == nil {
		if fetchErr == nil {
			fetchErr = errors.New("no account data returned")
		}
		return c.markFailed(fetchErr)
	}

	next := Snapshot{
		Account:           data.Account,
		Awards:            data.Awards,
		UpdatedAt:         c.now(),
		LastUpdateSuccess: true,
	}
	c.mu.Lock()
	c.snapshot = next
	listeners := append([]func(Snapshot){}, c.listeners...)
	c.mu.Unlock()
	c.metrics.ObserveRefresh(true)

	c.logger.Debug("account refreshed", "appointments", len(next.Appointments()), "has_awards", next.Awards != nil)
	c.adjustInterval(next.Appointments())

	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

func (c *Coordinator) markFailed(cause error) error {
	c.mu.Lock()
	c.snapshot.LastUpdateSuccess = false
	c.snapshot.LastError = cause.Error()
	c.mu.Unlock()
	c.metrics.ObserveRefresh(false)
	c.logger.Error("account refresh failed", "error", cause)
	return fmt.Errorf("%w: %v", ErrUpdateFailed, cause)
}

// EnsureFresh refreshes when there is no data yet or the last refresh failed,
// then returns the current snapshot. The snapshot is returned even when the
// refresh fails.
func (c *Coordinator) EnsureFresh(ctx context.Context) (Snapshot, error) {
	snap := c.Snapshot()
	if snap.HasData() && snap.LastUpdateSuccess {
		return snap, nil
	}
	err := c.Refresh(ctx)
	return c.Snapshot(), err
}

func (c *Coordinator) adjustInterval(appts []blooddonor.Appointment) {
	mode := SelectInterval(appts, c.now(), c.loc)
	d := c.standard
	if mode == NearAppointment {
		d = c.near
	}
	c.SetInterval(d)
}

// SetInterval changes the refresh interval and reschedules the pending refresh.
// It is a no-op when d equals the current interval.
func (c *Coordinator) SetInterval(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	c.mu.Lock()
	if c.interval == d {
		c.mu.Unlock()
		return false
	}
	c.interval = d
	c.mu.Unlock()

	c.metrics.SetRefreshInterval(d)
	c.logger.Info("update interval adjusted", "interval", d.String())

	// keep only the latest pending value
	select {
	case <-c.reset:
	default:
	}
	select {
	case c.reset <- d:
	default:
	}
	return true
}

// Run performs an initial refresh and then refreshes every interval until ctx
// is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial refresh failed", "error", err)
	}

	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		case <-timer.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("scheduled refresh failed", "error", err)
			}
			timer.Reset(c.Interval())
		}
	}
}
