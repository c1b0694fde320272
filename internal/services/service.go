// Package services exposes the donor operations used by the HTTP API and the CLI.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/guard"
	"github.com/wolfman30/blood-donor-assistant/internal/matching"
	"github.com/wolfman30/blood-donor-assistant/internal/notify"
	"github.com/wolfman30/blood-donor-assistant/internal/observability/metrics"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

const (
	OpRefresh               = "refresh"
	OpAvailableAppointments = "available_appointments"
	OpSessionSlots          = "session_slots"
	OpBookAppointment       = "book_appointment"
	OpBookingHelper         = "booking_helper"
	OpVenueSearch           = "venue_search"

	defaultSearchDays  = 90
	defaultMaxDistance = 20.0
	messageLoginFailed = "Failed to login to Blood Donor service"
	messageBusy        = "A booking is already in progress for this donor"
)

var tracer = otel.Tracer("blooddonor.internal.services")

// Portal is the donor portal client surface the operations use.
type Portal interface {
	HasToken() bool
	Login(ctx context.Context) bool
	DonorID() string
	ListSessions(ctx context.Context, venueID string, start, end time.Time, procedureCode string) ([]blooddonor.VenueSession, error)
	ListSlots(ctx context.Context, sessionID, sessionDate, procedureCode string) ([]blooddonor.Slot, error)
	Book(ctx context.Context, req blooddonor.BookingRequest) blooddonor.BookingOutcome
	SearchVenues(ctx context.Context, criteria string, start time.Time, procedureCode string) ([]blooddonor.VenueResult, error)
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

type BookingHelper interface {
	Validate(req matching.Request) error
	Run(ctx context.Context, req matching.Request) matching.Outcome
}

type Notifier interface {
	Notify(ctx context.Context, evt notify.Event) error
}

type Config struct {
	Portal      Portal
	Cache       Refresher
	Helper      BookingHelper
	Lock        guard.Lock
	Notifier    Notifier
	MaxDistance float64
	Location    *time.Location
	Logger      *logging.Logger
	Metrics     *metrics.DonorMetrics
	Clock       func() time.Time
}

// Service runs the donor operations. Every method returns a Result and never panics.
type Service struct {
	portal      Portal
	cache       Refresher
	helper      BookingHelper
	lock        guard.Lock
	notifier    Notifier
	maxDistance float64
	loc         *time.Location
	logger      *logging.Logger
	metrics     *metrics.DonorMetrics
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]SessionDetails
}

func New(cfg Config) (*Service, error) {
	if cfg.Portal == nil {
		return nil, errors.New("services: portal is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("services: cache is required")
	}
	if cfg.Helper == nil {
		return nil, errors.New("services: booking helper is required")
	}
	if cfg.Lock == nil {
		cfg.Lock = guard.NewLocalLock()
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = defaultMaxDistance
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
	return &Service{
		portal:      cfg.Portal,
		cache:       cfg.Cache,
		helper:      cfg.Helper,
		lock:        cfg.Lock,
		notifier:    cfg.Notifier,
		maxDistance: cfg.MaxDistance,
		loc:         cfg.Location,
		logger:      cfg.Logger.With("component", "services"),
		metrics:     cfg.Metrics,
		now:         cfg.Clock,
		sessions:    make(map[string]SessionDetails),
	}, nil
}

// RememberedSession returns the details stored by the last availability lookup.
func (s *Service) RememberedSession(sessionID string) (SessionDetails, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[sessionID]
	return d, ok
}

func (s *Service) Refresh(ctx context.Context) (res Result) {
	ctx, finish := s.begin(ctx, OpRefresh, &res)
	defer finish()

	if err := s.cache.Refresh(ctx); err != nil {
		return Result{Message: "Failed to refresh blood donor data", Error: err.Error()}
	}
	return Result{Success: true, Message: "Blood donor data refreshed"}
}

func (s *Service) AvailableAppointments(ctx context.Context, req AvailableAppointmentsRequest) (res Result) {
	ctx, finish := s.begin(ctx, OpAvailableAppointments, &res)
	defer finish()

	if err := validateStruct(req); err != nil {
		return invalid(err)
	}
	start := s.today()
	if req.StartDate != "" {
		start, _ = time.Parse("2006-01-02", req.StartDate)
	}
	end := start.AddDate(0, 0, defaultSearchDays)
	if req.EndDate != "" {
		end, _ = time.Parse("2006-01-02", req.EndDate)
	}
	if end.Before(start) {
		return invalid(&ValidationError{Err: errors.New("end_date must not be before start_date")})
	}
	if !s.ensureLogin(ctx) {
		return Result{Message: messageLoginFailed, Error: messageLoginFailed}
	}

	sessions, err := s.portal.ListSessions(ctx, req.VenueID, start, end, req.ProcedureCode)
	if err != nil {
		return Result{Message: "Failed to get available appointments", Error: err.Error()}
	}

	dates := make([]DateAvailability, 0, len(sessions))
	remembered := make(map[string]SessionDetails)
	for _, session := range sessions {
		total := 0
		periods := []PeriodAvailability{}
		for _, p := range session.Periods {
			total += p.AvailableSlots
			if p.AvailableSlots > 0 {
				periods = append(periods, PeriodAvailability{
					StartTime:      blooddonor.FormatHHMM(p.StartTime),
					EndTime:        blooddonor.FormatHHMM(p.EndTime),
					AvailableSlots: p.AvailableSlots,
				})
			}
		}
		if total <= 0 {
			continue
		}
		dates = append(dates, DateAvailability{
			Date:            blooddonor.DatePart(session.SessionDate),
			TotalAvailable:  total,
			Periods:         periods,
			SessionID:       session.SessionID,
			SessionDateFull: session.SessionDate,
		})
		remembered[session.SessionID] = SessionDetails{
			VenueID:        req.VenueID,
			SessionDate:    session.SessionDate,
			TotalAvailable: total,
			ProcedureCode:  req.ProcedureCode,
		}
	}
	sort.SliceStable(dates, func(i, j int) bool { return dates[i].Date < dates[j].Date })

	s.mu.Lock()
	for id, d := range remembered {
		s.sessions[id] = d
	}
	s.mu.Unlock()

	if len(dates) == 0 {
		return Result{Success: true, Message: "No available appointments found for the selected date range.", Data: dates}
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Found %d sessions with available appointments", len(dates)),
		Data:    dates,
	}
}

func (s *Service) SessionSlots(ctx context.Context, req SessionSlotsRequest) (res Result) {
	ctx, finish := s.begin(ctx, OpSessionSlots, &res)
	defer finish()

	if err := validateStruct(req); err != nil {
		return invalid(err)
	}
	venueID := req.VenueID
	if venueID == "" {
		if d, ok := s.RememberedSession(req.SessionID); ok {
			venueID = d.VenueID
		}
	}
	if !s.ensureLogin(ctx) {
		return Result{Message: messageLoginFailed, Error: messageLoginFailed}
	}

	slots, err := s.portal.ListSlots(ctx, req.SessionID, req.SessionDate, req.ProcedureCode)
	if err != nil {
		return Result{Message: "Failed to get session slots", Error: err.Error()}
	}
	out := SessionSlots{
		SessionID:   req.SessionID,
		SessionDate: blooddonor.DatePart(req.SessionDate),
		VenueID:     venueID,
		Slots:       make([]SlotView, 0, len(slots)),
	}
	for _, slot := range slots {
		out.Slots = append(out.Slots, SlotView{
			Time:             blooddonor.FormatHHMM(slot.Time),
			SessionTime:      slot.Time,
			Procedure:        slot.ProcedureDescription,
			ProcedureCode:    slot.ProcedureCode,
			LastOneAvailable: slot.LastOneAvailable,
		})
	}
	if len(out.Slots) == 0 {
		return Result{Success: true, Message: "No available slots found for this session.", Data: out}
	}
	return Result{Success: true, Message: fmt.Sprintf("Found %d available slots", len(out.Slots)), Data: out}
}

func (s *Service) BookAppointment(ctx context.Context, req BookAppointmentRequest) (res Result) {
	ctx, finish := s.begin(ctx, OpBookAppointment, &res)
	defer finish()

	if err := validateStruct(req); err != nil {
		return invalid(err)
	}
	release, busy := s.acquire(ctx)
	if busy != nil {
		return *busy
	}
	defer release()

	booking := s.portal.Book(ctx, blooddonor.BookingRequest{
		SessionID:     req.SessionID,
		SessionDate:   req.SessionDate,
		SessionTime:   req.SessionTime,
		VenueID:       req.VenueID,
		ProcedureCode: req.ProcedureCode,
	})
	s.metrics.ObserveBooking("direct", booking.Success)

	if !booking.Success {
		msg := "Failed to book appointment: " + booking.Error
		if booking.Status != "" {
			msg = fmt.Sprintf("Appointment booking returned status: %s. Please check the Blood Donor website for details.", booking.Status)
		}
		return Result{Message: msg, Error: booking.Error, Data: booking}
	}

	appt := BookedAppointment{Date: blooddonor.DatePart(req.SessionDate), Time: blooddonor.FormatHHMM(req.SessionTime)}
	if booking.Data != nil {
		if booking.Data.Time != "" {
			appt.Time = blooddonor.FormatHHMM(booking.Data.Time)
		}
		appt.Venue = booking.Data.Session.Venue.VenueName
		appt.Procedure = booking.Data.ProcedureDescription
	}
	if err := s.cache.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after booking failed", "error", err)
	}
	return Result{Success: true, Message: "Appointment booked successfully", Appointment: appt, Data: booking}
}

// BookingHelper finds the slot closest to the preference and books it when
// AutoBook is set. Auto-booking runs hold the booking guard.
func (s *Service) BookingHelper(ctx context.Context, req matching.Request) (res Result) {
	ctx, finish := s.begin(ctx, OpBookingHelper, &res)
	defer finish()

	if err := validateStruct(req); err != nil {
		return invalid(err)
	}
	if err := s.helper.Validate(req); err != nil {
		return invalid(&ValidationError{Err: err})
	}
	if req.AutoBook {
		release, busy := s.acquire(ctx)
		if busy != nil {
			return *busy
		}
		defer release()
	}

	out := s.helper.Run(ctx, req)
	r := Result{Success: out.Success, Message: out.Message, Error: out.Error, Data: out}
	if out.Candidate != nil {
		r.Appointment = out.Candidate
	}
	if r.Message == "" {
		r.Message = out.Error
	}
	return r
}

func (s *Service) VenueSearch(ctx context.Context, req VenueSearchRequest) (res Result) {
	ctx, finish := s.begin(ctx, OpVenueSearch, &res)
	defer finish()

	if err := validateStruct(req); err != nil {
		return invalid(err)
	}
	start := s.today()
	if req.StartDate != "" {
		start, _ = time.Parse("2006-01-02", req.StartDate)
	}
	maxDistance := s.maxDistance
	if req.MaxDistance != nil {
		maxDistance = *req.MaxDistance
	}
	if !s.ensureLogin(ctx) {
		return Result{Message: messageLoginFailed, Error: messageLoginFailed}
	}

	venues, err := s.portal.SearchVenues(ctx, req.SearchCriteria, start, req.ProcedureCode)
	if err != nil {
		return Result{Message: "Failed to search venues", Error: err.Error()}
	}
	views := make([]VenueView, 0, len(venues))
	for _, v := range venues {
		if v.VenueDistance > maxDistance {
			continue
		}
		next := "Unknown"
		if v.DateOfNextSession != "" {
			next = blooddonor.DatePart(v.DateOfNextSession)
		}
		views = append(views, VenueView{
			VenueID:     v.Venue.VenueID,
			Name:        v.Venue.VenueName,
			Type:        v.TypeLabel(),
			Distance:    v.VenueDistance,
			Address:     v.Venue.Address.Joined(),
			Postcode:    strings.TrimSpace(v.Venue.Address.Postcode),
			NextSession: next,
		})
	}
	if len(views) == 0 {
		return Result{
			Success: true,
			Message: fmt.Sprintf("No venues found within %g miles of %s.", maxDistance, req.SearchCriteria),
			Data:    views,
		}
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Found %d venues within %g miles of %s", len(views), maxDistance, req.SearchCriteria),
		Data:    views,
	}
}

// begin starts the span and returns the deferred finisher that recovers
// panics, stamps the operation id and hands the result to the notifier.
func (s *Service) begin(ctx context.Context, op string, res *Result) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "services."+op)
	opID := uuid.NewString()
	span.SetAttributes(attribute.String("operation_id", opID))

	return ctx, func() {
		defer span.End()
		if rec := recover(); rec != nil {
			s.logger.Error("panic in operation", "operation", op, "operation_id", opID, "panic", rec)
			*res = Result{Error: fmt.Sprintf("An error occurred during %s: %v", strings.ReplaceAll(op, "_", " "), rec)}
			res.Message = res.Error
		}
		res.OperationID = opID
		res.Operation = op
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		s.logger.Info("operation finished", "operation", op, "operation_id", opID, "success", res.Success, "message", res.Message)
		if res.Code == CodeInvalidRequest || s.notifier == nil {
			return
		}
		// the request context may already be cancelled
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(notifyCtx, eventFor(*res)); err != nil {
			s.logger.Warn("result notification failed", "operation", op, "operation_id", opID, "error", err)
		}
	}
}

func (s *Service) acquire(ctx context.Context) (func(), *Result) {
	key := s.portal.DonorID()
	if key == "" {
		key = "default"
	}
	release, err := s.lock.Acquire(ctx, key)
	if errors.Is(err, guard.ErrBusy) {
		return nil, &Result{Code: CodeBusy, Message: messageBusy, Error: messageBusy}
	}
	if err != nil {
		s.logger.Error("booking guard unavailable", "error", err)
		return nil, &Result{Message: "Booking guard unavailable", Error: err.Error()}
	}
	return release, nil
}

func (s *Service) ensureLogin(ctx context.Context) bool {
	return s.portal.HasToken() || s.portal.Login(ctx)
}

func (s *Service) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func invalid(err error) Result {
	return Result{Code: CodeInvalidRequest, Message: "Invalid request", Error: err.Error()}
}
