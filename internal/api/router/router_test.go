package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/blood-donor-assistant/internal/http/middleware"
	"github.com/wolfman30/blood-donor-assistant/internal/matching"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/internal/services"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

type stubOps struct {
	result    services.Result
	lastSlots services.SessionSlotsRequest
	lastHelp  matching.Request
}

func (s *stubOps) Refresh(ctx context.Context) services.Result { return s.result }
func (s *stubOps) AvailableAppointments(ctx context.Context, req services.AvailableAppointmentsRequest) services.Result {
	return s.result
}
func (s *stubOps) SessionSlots(ctx context.Context, req services.SessionSlotsRequest) services.Result {
	s.lastSlots = req
	return s.result
}
func (s *stubOps) BookAppointment(ctx context.Context, req services.BookAppointmentRequest) services.Result {
	return s.result
}
func (s *stubOps) BookingHelper(ctx context.Context, req matching.Request) services.Result {
	s.lastHelp = req
	return s.result
}
func (s *stubOps) VenueSearch(ctx context.Context, req services.VenueSearchRequest) services.Result {
	return s.result
}

type stubState struct{ snap scheduler.Snapshot }

func (s stubState) Snapshot() scheduler.Snapshot { return s.snap }

func newTestRouter(t *testing.T, ops *stubOps, token string) http.Handler {
	t.Helper()
	logger := logging.New("error")
	state := stubState{snap: scheduler.Snapshot{
		Account: &blooddonor.AccountDetails{
			DonorID: "D123",
			Appointments: []blooddonor.Appointment{{
				AppointmentID:        "A1",
				Session:              blooddonor.AppointmentSession{SessionDate: "2024-04-20T00:00:00"},
				Time:                 "T1305",
				ProcedureDescription: "Whole Blood",
			}},
		},
		LastUpdateSuccess: true,
	}}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return New(&Config{
		Logger:         logger,
		Donor:          handlers.NewDonorHandler(ops, state, time.UTC, logger),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		APIToken:       token,
		RateLimiter:    httpmiddleware.NewRateLimiter(100, 100),
		Done:           done,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	rr := do(t, newTestRouter(t, &stubOps{}, "tok"), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterMetricsIsPublic(t *testing.T) {
	rr := do(t, newTestRouter(t, &stubOps{}, "tok"), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "# metrics")
}

func TestRouterRequiresToken(t *testing.T) {
	router := newTestRouter(t, &stubOps{}, "tok")

	rr := do(t, router, http.MethodGet, "/api/state", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/state", "", map[string]string{"Authorization": "Bearer tok"})
	require.Equal(t, http.StatusOK, rr.Code)
	var view map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.Equal(t, true, view["last_update_success"])
	assert.Len(t, view["sensors"], 6)
}

func TestRouterResultStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		result services.Result
		want   int
	}{
		{"success", services.Result{Success: true}, http.StatusOK},
		{"validation", services.Result{Code: services.CodeInvalidRequest, Error: "venue_id is required"}, http.StatusBadRequest},
		{"busy", services.Result{Code: services.CodeBusy}, http.StatusConflict},
		{"operation failure", services.Result{Error: "No sessions available"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &stubOps{result: tt.result}, "")
			rr := do(t, router, http.MethodPost, "/api/appointments/book", `{"session_id":"S1"}`, nil)
			assert.Equal(t, tt.want, rr.Code)

			var got services.Result
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.result.Success, got.Success)
		})
	}
}

func TestRouterSessionSlotsTakesIDFromPath(t *testing.T) {
	ops := &stubOps{result: services.Result{Success: true}}
	router := newTestRouter(t, ops, "")

	rr := do(t, router, http.MethodPost, "/api/sessions/S-77/slots", `{"session_date":"2024-03-17T00:00:00"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "S-77", ops.lastSlots.SessionID)
	assert.Equal(t, "2024-03-17T00:00:00", ops.lastSlots.SessionDate)
}

func TestRouterBookingHelperDecodesRequest(t *testing.T) {
	ops := &stubOps{result: services.Result{Success: true}}
	router := newTestRouter(t, ops, "")

	body := `{"venue_id":"V1","target_day_of_week":"friday","tolerance_hours":0,"auto_book":true}`
	rr := do(t, router, http.MethodPost, "/api/booking-helper", body, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "friday", ops.lastHelp.TargetDayOfWeek)
	require.NotNil(t, ops.lastHelp.ToleranceHours)
	assert.Zero(t, *ops.lastHelp.ToleranceHours)
	assert.True(t, ops.lastHelp.AutoBook)

	rr = do(t, router, http.MethodPost, "/api/booking-helper", `{"venue":`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/booking-helper", `{"unknown_field":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterRefreshAcceptsEmptyBody(t *testing.T) {
	rr := do(t, newTestRouter(t, &stubOps{result: services.Result{Success: true}}, ""), http.MethodPost, "/api/refresh", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterCalendar(t *testing.T) {
	router := newTestRouter(t, &stubOps{}, "")

	rr := do(t, router, http.MethodGet, "/api/calendar?start=2024-04-01&end=2024-05-01", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Events []struct {
			UID     string    `json:"uid"`
			Summary string    `json:"summary"`
			Start   time.Time `json:"start"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "A1", resp.Events[0].UID)
	assert.Equal(t, "Whole Blood Donation", resp.Events[0].Summary)

	rr = do(t, router, http.MethodGet, "/api/calendar?start=2024-05-01&end=2024-06-01", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"events":[]`)

	rr = do(t, router, http.MethodGet, "/api/calendar?start=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/calendar?start=2024-05-01&end=2024-04-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
