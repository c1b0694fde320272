package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/observability/metrics"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

const (
	MessageBooked = "Appointment booked successfully"
	MessageFound  = "Found best available appointment (not booked)"

	ReasonNoSessions       = "No sessions available"
	ReasonNoAvailableSlots = "No available slots"
	ReasonNoSlotsInWindow  = "No slots within tolerance window"
	ReasonLoginFailed      = "Failed to login to Blood Donor service"
	ReasonMissingTarget    = "Either target_date or target_day_of_week must be provided"
)

var tracer = otel.Tracer("blooddonor.internal.matching")

// Portal is the subset of the donor portal client the engine needs.
type Portal interface {
	HasToken() bool
	Login(ctx context.Context) bool
	ListSessions(ctx context.Context, venueID string, start, end time.Time, procedureCode string) ([]blooddonor.VenueSession, error)
	ListSlots(ctx context.Context, sessionID, sessionDate, procedureCode string) ([]blooddonor.Slot, error)
	Book(ctx context.Context, req blooddonor.BookingRequest) blooddonor.BookingOutcome
}

// AccountCache provides the cached appointments and a way to refresh them.
type AccountCache interface {
	EnsureFresh(ctx context.Context) (scheduler.Snapshot, error)
	Refresh(ctx context.Context) error
}

// Request describes what appointment to look for. Optional numeric fields
// use pointers so an explicit zero is distinguishable from "use the default".
type Request struct {
	VenueID                    string   `json:"venue_id" validate:"required"`
	TargetDate                 string   `json:"target_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TargetDayOfWeek            string   `json:"target_day_of_week,omitempty"`
	TargetTime                 string   `json:"target_time,omitempty"`
	ToleranceHours             *float64 `json:"tolerance_hours,omitempty" validate:"omitempty,gte=0"`
	ProcedureCode              string   `json:"procedure_code,omitempty"`
	AutoBook                   bool     `json:"auto_book,omitempty"`
	MinDaysFromLastAppointment *int     `json:"min_days_from_last_appointment,omitempty" validate:"omitempty,gte=0,lte=365"`
}

// Candidate is the best slot found.
type Candidate struct {
	Date                string  `json:"date"`
	DayOfWeek           string  `json:"day_of_week"`
	Time                string  `json:"time"`
	VenueID             string  `json:"venue_id"`
	Procedure           string  `json:"procedure"`
	SessionID           string  `json:"session_id"`
	SessionDate         string  `json:"session_date"`
	SessionTime         string  `json:"session_time"`
	TimeDifference      string  `json:"time_difference"`
	TimeDifferenceHours float64 `json:"-"`
}

// Outcome is the result of one matching run.
type Outcome struct {
	Success         bool                       `json:"success"`
	Found           bool                       `json:"found"`
	Booked          bool                       `json:"booked"`
	Message         string                     `json:"message"`
	Error           string                     `json:"error,omitempty"`
	Candidate       *Candidate                 `json:"appointment"`
	Booking         *blooddonor.BookingOutcome `json:"booking,omitempty"`
	EarliestAllowed string                     `json:"earliest_allowed_date,omitempty"`
	TargetDate      string                     `json:"target_date,omitempty"`
	Window          *Window                    `json:"window,omitempty"`
}

// Defaults fill in unset request fields.
type Defaults struct {
	TargetTime      string
	ToleranceHours  float64
	MinDaysFromLast int
}

type Config struct {
	Portal   Portal
	Cache    AccountCache
	Defaults Defaults
	Location *time.Location
	Logger   *logging.Logger
	Metrics  *metrics.DonorMetrics
	Clock    func() time.Time
}

// Engine finds the slot closest to a requested time and optionally books it.
type Engine struct {
	portal   Portal
	cache    AccountCache
	defaults Defaults
	loc      *time.Location
	logger   *logging.Logger
	metrics  *metrics.DonorMetrics
	now      func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if cfg.Portal == nil {
		return nil, errors.New("matching: portal is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("matching: account cache is required")
	}
	if strings.TrimSpace(cfg.Defaults.TargetTime) == "" {
		cfg.Defaults.TargetTime = DefaultTargetTime
	}
	if cfg.Defaults.ToleranceHours <= 0 {
		cfg.Defaults.ToleranceHours = DefaultToleranceHours
	}
	if cfg.Defaults.MinDaysFromLast <= 0 {
		cfg.Defaults.MinDaysFromLast = DefaultMinDaysFromLast
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
	return &Engine{
		portal:   cfg.Portal,
		cache:    cfg.Cache,
		defaults: cfg.Defaults,
		loc:      cfg.Location,
		logger:   cfg.Logger.With("component", "matching"),
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
	}, nil
}

// resolved is a Request with defaults applied and strings parsed.
type resolved struct {
	venueID       string
	targetDate    *time.Time
	weekday       int
	hour, minute  int
	tolerance     float64
	minDays       int
	procedureCode string
	autoBook      bool
}

// Validate checks the inputs that need no network access.
func (e *Engine) Validate(req Request) error {
	_, err := e.resolve(req)
	return err
}

// resolve applies defaults and parses the request.
func (e *Engine) resolve(req Request) (resolved, error) {
	r := resolved{
		venueID:       strings.TrimSpace(req.VenueID),
		tolerance:     e.defaults.ToleranceHours,
		minDays:       e.defaults.MinDaysFromLast,
		procedureCode: req.ProcedureCode,
		autoBook:      req.AutoBook,
	}
	if r.venueID == "" {
		return r, errors.New("venue_id is required")
	}
	if req.ToleranceHours != nil {
		if *req.ToleranceHours < 0 {
			return r, errors.New("tolerance_hours must not be negative")
		}
		r.tolerance = *req.ToleranceHours
	}
	if req.MinDaysFromLastAppointment != nil {
		if *req.MinDaysFromLastAppointment < 0 {
			return r, errors.New("min_days_from_last_appointment must not be negative")
		}
		r.minDays = *req.MinDaysFromLastAppointment
	}

	targetTime := req.TargetTime
	if strings.TrimSpace(targetTime) == "" {
		targetTime = e.defaults.TargetTime
	}
	h, m, err := parseHHMM(NormalizeTime(targetTime))
	if err != nil {
		return r, fmt.Errorf("target_time: %w", err)
	}
	r.hour, r.minute = h, m

	hasDate := strings.TrimSpace(req.TargetDate) != ""
	hasDay := strings.TrimSpace(req.TargetDayOfWeek) != ""
	switch {
	case hasDate && hasDay:
		return r, errors.New("provide only one of target_date or target_day_of_week")
	case hasDate:
		d, err := time.Parse("2006-01-02", strings.TrimSpace(req.TargetDate))
		if err != nil {
			return r, fmt.Errorf("target_date must be YYYY-MM-DD: %w", err)
		}
		r.targetDate = &d
	case hasDay:
		idx, err := ParseDayOfWeek(req.TargetDayOfWeek)
		if err != nil {
			return r, err
		}
		r.weekday = idx
	default:
		return r, errors.New(ReasonMissingTarget)
	}
	return r, nil
}

// Run executes one matching run. It never panics; failures are reported in
// the Outcome.
func (e *Engine) Run(ctx context.Context, req Request) (out Outcome) {
	ctx, span := tracer.Start(ctx, "matching.run")
	defer span.End()
	span.SetAttributes(attribute.String("venue_id", req.VenueID), attribute.Bool("auto_book", req.AutoBook))

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("panic in booking helper", "panic", rec)
			out = Outcome{Error: fmt.Sprintf("An error occurred while finding the best appointment: %v", rec)}
		}
		e.metrics.ObserveMatching(outcomeLabel(out))
		if !out.Success {
			span.SetStatus(codes.Error, out.Error)
		}
	}()

	r, err := e.resolve(req)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	return e.run(ctx, r)
}

func (e *Engine) run(ctx context.Context, r resolved) Outcome {
	today := civil(e.now().In(e.loc))

	snap, err := e.cache.EnsureFresh(ctx)
	if err != nil {
		e.logger.Warn("could not refresh appointments, using cached data", "error", err)
	}
	earliest := today
	if snap.HasData() {
		earliest = EarliestAllowedDate(snap.Appointments(), r.minDays, today)
	}

	var target time.Time
	if r.targetDate != nil {
		target = *r.targetDate
	} else {
		target = ResolveTargetDate(earliest, r.weekday)
	}
	window := ToleranceWindow(target, r.hour, r.minute, r.tolerance, e.loc)
	out := Outcome{
		EarliestAllowed: earliest.Format("2006-01-02"),
		TargetDate:      target.Format("2006-01-02"),
		Window:          &window,
	}
	e.logger.Debug("searching for appointment",
		"venue_id", r.venueID,
		"earliest_allowed", out.EarliestAllowed,
		"target_date", out.TargetDate,
		"window_start", window.Start.Format("15:04:05"),
		"window_end", window.End.Format("15:04:05"),
	)

	if !e.portal.HasToken() && !e.portal.Login(ctx) {
		out.Error = ReasonLoginFailed
		return out
	}

	sessions, err := e.portal.ListSessions(ctx, r.venueID, target, target, r.procedureCode)
	if err != nil {
		e.logger.Warn("session lookup failed", "venue_id", r.venueID, "error", err)
		if errors.Is(err, blooddonor.ErrNotAuthenticated) {
			out.Error = ReasonLoginFailed
			return out
		}
	}
	if len(sessions) == 0 {
		out.Message = fmt.Sprintf("No sessions available for %s.", out.TargetDate)
		out.Error = ReasonNoSessions
		return out
	}

	var open []blooddonor.VenueSession
	for _, s := range sessions {
		if s.HasAvailability() {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		out.Message = fmt.Sprintf("No available appointment slots found for %s.", out.TargetDate)
		out.Error = ReasonNoAvailableSlots
		return out
	}

	var cands []SlotCandidate
	for _, s := range open {
		slots, err := e.portal.ListSlots(ctx, s.SessionID, s.SessionDate, r.procedureCode)
		if err != nil {
			e.logger.Warn("slot lookup failed", "session_id", s.SessionID, "error", err)
			if errors.Is(err, blooddonor.ErrNotAuthenticated) {
				out.Error = ReasonLoginFailed
				return out
			}
		}
		for _, slot := range slots {
			h, m, err := slot.Clock()
			if err != nil {
				e.logger.Warn("invalid time format in slot", "session_id", s.SessionID, "time", slot.Time)
				continue
			}
			at := time.Date(target.Year(), target.Month(), target.Day(), h, m, 0, 0, e.loc)
			if !window.Contains(at) {
				continue
			}
			cands = append(cands, SlotCandidate{Slot: slot, SessionID: s.SessionID, SessionDate: s.SessionDate, At: at})
		}
	}
	if len(cands) == 0 {
		out.Message = fmt.Sprintf("No available slots found within %g hours of %02d:%02d on %s.",
			r.tolerance, r.hour, r.minute, out.TargetDate)
		out.Error = ReasonNoSlotsInWindow
		return out
	}

	best := RankSlots(cands, window.Target)[0]
	out.Found = true
	out.Candidate = &Candidate{
		Date:                out.TargetDate,
		DayOfWeek:           target.Weekday().String(),
		Time:                blooddonor.FormatHHMM(best.Slot.Time),
		VenueID:             r.venueID,
		Procedure:           best.Slot.ProcedureDescription,
		SessionID:           best.SessionID,
		SessionDate:         best.SessionDate,
		SessionTime:         best.Slot.Time,
		TimeDifference:      fmt.Sprintf("%.1f", best.DiffHours),
		TimeDifferenceHours: best.DiffHours,
	}

	if !r.autoBook {
		out.Success = true
		out.Message = MessageFound
		return out
	}

	booking := e.portal.Book(ctx, blooddonor.BookingRequest{
		SessionID:     best.SessionID,
		SessionDate:   best.SessionDate,
		SessionTime:   best.Slot.Time,
		VenueID:       r.venueID,
		ProcedureCode: r.procedureCode,
	})
	out.Booking = &booking
	e.metrics.ObserveBooking("booking_helper", booking.Success)
	if !booking.Success {
		if booking.Error == blooddonor.BookingAuthFailed {
			out.Error = ReasonLoginFailed
			return out
		}
		msg := booking.Error
		if msg == "" {
			msg = "Unknown error"
		}
		out.Message = "Failed to book appointment: " + msg
		out.Error = msg
		return out
	}

	out.Success = true
	out.Booked = true
	out.Message = MessageBooked
	if err := e.cache.Refresh(ctx); err != nil {
		e.logger.Warn("refresh after booking failed", "error", err)
	}
	return out
}

func outcomeLabel(out Outcome) string {
	switch {
	case out.Booked:
		return "booked"
	case out.Success:
		return "recommended"
	case out.Error == ReasonNoSessions:
		return "no_sessions"
	case out.Error == ReasonNoAvailableSlots:
		return "no_availability"
	case out.Error == ReasonNoSlotsInWindow:
		return "no_slots_in_window"
	case out.Booking != nil:
		return "booking_failed"
	default:
		return "error"
	}
}
