// Package handlers adapts donor operations and views to HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/blood-donor-assistant/internal/display"
	"github.com/wolfman30/blood-donor-assistant/internal/matching"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/internal/services"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

const (
	maxBodyBytes        = 1 << 20
	defaultCalendarDays = 90
)

// Operations is the service surface exposed over HTTP.
type Operations interface {
	Refresh(ctx context.Context) services.Result
	AvailableAppointments(ctx context.Context, req services.AvailableAppointmentsRequest) services.Result
	SessionSlots(ctx context.Context, req services.SessionSlotsRequest) services.Result
	BookAppointment(ctx context.Context, req services.BookAppointmentRequest) services.Result
	BookingHelper(ctx context.Context, req matching.Request) services.Result
	VenueSearch(ctx context.Context, req services.VenueSearchRequest) services.Result
}

type StateSource interface {
	Snapshot() scheduler.Snapshot
}

type DonorHandler struct {
	ops    Operations
	state  StateSource
	loc    *time.Location
	logger *logging.Logger
	now    func() time.Time
}

func NewDonorHandler(ops Operations, state StateSource, loc *time.Location, logger *logging.Logger) *DonorHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DonorHandler{ops: ops, state: state, loc: loc, logger: logger, now: time.Now}
}

func (h *DonorHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *DonorHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, display.Build(h.state.Snapshot(), h.loc))
}

// GetCalendar lists appointments overlapping [start, end). Both bounds accept
// RFC 3339 or YYYY-MM-DD; start defaults to today and end to start+90 days.
func (h *DonorHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	n := h.now().In(h.loc)
	start := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, h.loc)
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := parseBound(raw, h.loc)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "start must be RFC 3339 or YYYY-MM-DD")
			return
		}
		start = t
	}
	end := start.AddDate(0, 0, defaultCalendarDays)
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := parseBound(raw, h.loc)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "end must be RFC 3339 or YYYY-MM-DD")
			return
		}
		end = t
	}
	if !end.After(start) {
		jsonError(w, http.StatusBadRequest, "end must be after start")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start":  start,
		"end":    end,
		"events": display.CalendarEvents(h.state.Snapshot(), start, end, h.loc),
	})
}

func (h *DonorHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.ops.Refresh(r.Context()))
}

func (h *DonorHandler) AvailableAppointments(w http.ResponseWriter, r *http.Request) {
	var req services.AvailableAppointmentsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeResult(w, h.ops.AvailableAppointments(r.Context(), req))
}

func (h *DonorHandler) SessionSlots(w http.ResponseWriter, r *http.Request) {
	var req services.SessionSlotsRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	h.writeResult(w, h.ops.SessionSlots(r.Context(), req))
}

func (h *DonorHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req services.BookAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeResult(w, h.ops.BookAppointment(r.Context(), req))
}

func (h *DonorHandler) BookingHelper(w http.ResponseWriter, r *http.Request) {
	var req matching.Request
	if !h.decode(w, r, &req) {
		return
	}
	h.writeResult(w, h.ops.BookingHelper(r.Context(), req))
}

func (h *DonorHandler) VenueSearch(w http.ResponseWriter, r *http.Request) {
	var req services.VenueSearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeResult(w, h.ops.VenueSearch(r.Context(), req))
}

// decode reads an optional JSON body into dst. An empty body leaves dst zero.
func (h *DonorHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("invalid request body", "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeResult maps validation failures to 400 and a held booking guard to 409.
// Other failures are reported in the payload with 200.
func (h *DonorHandler) writeResult(w http.ResponseWriter, res services.Result) {
	status := http.StatusOK
	switch res.Code {
	case services.CodeInvalidRequest:
		status = http.StatusBadRequest
	case services.CodeBusy:
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func parseBound(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", raw, loc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
