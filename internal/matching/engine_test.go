package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

type fakePortal struct {
	hasToken       bool
	loginOK        bool
	logins         int
	sessions       []blooddonor.VenueSession
	slots          map[string][]blooddonor.Slot
	sessionQueries []time.Time
	slotCalls      []string
	booking        blooddonor.BookingOutcome
	booked         []blooddonor.BookingRequest
	panicOnSlots   bool
	sessionsErr    error
	slotsErr       error
}

func (f *fakePortal) HasToken() bool { return f.hasToken }

func (f *fakePortal) Login(ctx context.Context) bool {
	f.logins++
	if f.loginOK {
		f.hasToken = true
	}
	return f.loginOK
}

func (f *fakePortal) ListSessions(ctx context.Context, venueID string, start, end time.Time, procedureCode string) ([]blooddonor.VenueSession, error) {
	f.sessionQueries = append(f.sessionQueries, start, end)
	if f.sessionsErr != nil {
		return []blooddonor.VenueSession{}, f.sessionsErr
	}
	return f.sessions, nil
}

func (f *fakePortal) ListSlots(ctx context.Context, sessionID, sessionDate, procedureCode string) ([]blooddonor.Slot, error) {
	if f.panicOnSlots {
		panic("unexpected payload")
	}
	f.slotCalls = append(f.slotCalls, sessionID)
	if f.slotsErr != nil {
		return []blooddonor.Slot{}, f.slotsErr
	}
	return f.slots[sessionID], nil
}

func (f *fakePortal) Book(ctx context.Context, req blooddonor.BookingRequest) blooddonor.BookingOutcome {
	f.booked = append(f.booked, req)
	return f.booking
}

type fakeCache struct {
	snapshot  scheduler.Snapshot
	ensureErr error
	refreshes int
}

func (f *fakeCache) EnsureFresh(ctx context.Context) (scheduler.Snapshot, error) {
	return f.snapshot, f.ensureErr
}

func (f *fakeCache) Refresh(ctx context.Context) error {
	f.refreshes++
	return nil
}

func cacheWith(appts ...blooddonor.Appointment) *fakeCache {
	return &fakeCache{snapshot: scheduler.Snapshot{
		Account:           &blooddonor.AccountDetails{Appointments: appts},
		LastUpdateSuccess: true,
	}}
}

func openSession(id, day string) blooddonor.VenueSession {
	return blooddonor.VenueSession{
		SessionID:   id,
		SessionDate: day + "T00:00:00",
		Periods:     []blooddonor.Period{{StartTime: "T0900", EndTime: "T1200", AvailableSlots: 0}, {StartTime: "T1200", EndTime: "T1600", AvailableSlots: 4}},
	}
}

func slotAt(tm string) blooddonor.Slot {
	return blooddonor.Slot{Time: tm, ProcedureCode: "WB", ProcedureDescription: "Whole Blood"}
}

func newTestEngine(t *testing.T, portal Portal, cache AccountCache, now time.Time) *Engine {
	t.Helper()
	e, err := New(Config{
		Portal:   portal,
		Cache:    cache,
		Location: time.UTC,
		Logger:   logging.New("error"),
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return e
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

var jan1 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func TestRunWeekdayAfterMinimumGap(t *testing.T) {
	// latest appointment 2024-01-10 + 14 days = Wednesday 2024-01-24
	portal := &fakePortal{
		hasToken: true,
		sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-24")},
		slots:    map[string][]blooddonor.Slot{"S1": {slotAt("T1340"), slotAt("T1220")}},
	}
	cache := cacheWith(apptOn("2024-01-10"), apptOn("2024-01-05"))
	e := newTestEngine(t, portal, cache, jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDayOfWeek: "Wednesday"})

	require.True(t, out.Success, out.Error)
	assert.Equal(t, MessageFound, out.Message)
	assert.Equal(t, "2024-01-24", out.EarliestAllowed)
	assert.Equal(t, "2024-01-24", out.TargetDate)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, Candidate{
		Date:                "2024-01-24",
		DayOfWeek:           "Wednesday",
		Time:                "12:20",
		VenueID:             "V1",
		Procedure:           "Whole Blood",
		SessionID:           "S1",
		SessionDate:         "2024-01-24T00:00:00",
		SessionTime:         "T1220",
		TimeDifference:      "0.6",
		TimeDifferenceHours: out.Candidate.TimeDifferenceHours,
	}, *out.Candidate)
	assert.Equal(t, []time.Time{date("2024-01-24"), date("2024-01-24")}, portal.sessionQueries, "single-day query")
	assert.Empty(t, portal.booked)
	assert.Zero(t, cache.refreshes)
}

func TestRunNoAppointmentsStartsToday(t *testing.T) {
	portal := &fakePortal{hasToken: true}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDayOfWeek: "monday"})
	assert.Equal(t, "2024-01-01", out.EarliestAllowed)
	assert.Equal(t, "2024-01-01", out.TargetDate, "jan 1 2024 is a monday")
	assert.False(t, out.Success)
	assert.Equal(t, ReasonNoSessions, out.Error)
	assert.Equal(t, "No sessions available for 2024-01-01.", out.Message)
}

func TestRunExplicitDateIgnoresGap(t *testing.T) {
	portal := &fakePortal{hasToken: true}
	e := newTestEngine(t, portal, cacheWith(apptOn("2024-01-10")), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-12"})
	assert.Equal(t, "2024-01-12", out.TargetDate)
	assert.Equal(t, ReasonNoSessions, out.Error)
}

func TestRunNoAvailabilitySkipsSlotQuery(t *testing.T) {
	full := blooddonor.VenueSession{SessionID: "S1", SessionDate: "2024-01-01T00:00:00", Periods: []blooddonor.Period{{AvailableSlots: 0}, {AvailableSlots: 0}}}
	portal := &fakePortal{hasToken: true, sessions: []blooddonor.VenueSession{full}}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01"})
	assert.False(t, out.Success)
	assert.Equal(t, ReasonNoAvailableSlots, out.Error)
	assert.Empty(t, portal.slotCalls)
}

func TestRunSlotsOutsideWindow(t *testing.T) {
	portal := &fakePortal{
		hasToken: true,
		sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-01")},
		slots:    map[string][]blooddonor.Slot{"S1": {slotAt("T0800"), slotAt("T1700"), slotAt("bad")}},
	}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01", ToleranceHours: f64(1)})
	assert.False(t, out.Success)
	assert.Equal(t, ReasonNoSlotsInWindow, out.Error)
	assert.Nil(t, out.Candidate)
}

func TestRunSkipsUnparsableSlotTimes(t *testing.T) {
	portal := &fakePortal{
		hasToken: true,
		sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-01")},
		slots:    map[string][]blooddonor.Slot{"S1": {slotAt("T12"), slotAt("Tnoon"), slotAt("T1400")}},
	}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01"})
	require.True(t, out.Success)
	assert.Equal(t, "14:00", out.Candidate.Time)
}

func TestRunTieKeepsFirstListed(t *testing.T) {
	portal := &fakePortal{
		hasToken: true,
		sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-01"), openSession("S2", "2024-01-01")},
		slots: map[string][]blooddonor.Slot{
			"S1": {slotAt("T1230")},
			"S2": {slotAt("T1320")},
		},
	}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01"})
	require.True(t, out.Success)
	assert.Equal(t, "S1", out.Candidate.SessionID)
	assert.Equal(t, "0.4", out.Candidate.TimeDifference)
	assert.Equal(t, []string{"S1", "S2"}, portal.slotCalls)
}

func TestRunAutoBook(t *testing.T) {
	tests := []struct {
		name        string
		booking     blooddonor.BookingOutcome
		wantSuccess bool
		wantRefresh int
		wantError   string
	}{
		{
			name:        "confirmed booking refreshes",
			booking:     blooddonor.BookingOutcome{Success: true, Status: "B"},
			wantSuccess: true,
			wantRefresh: 1,
		},
		{
			name:      "pending status keeps candidate",
			booking:   blooddonor.BookingOutcome{Status: "P", Error: "Booking returned status: P"},
			wantError: "Booking returned status: P",
		},
		{
			name:      "empty error becomes unknown",
			booking:   blooddonor.BookingOutcome{},
			wantError: "Unknown error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := &fakePortal{
				hasToken: true,
				sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-01")},
				slots:    map[string][]blooddonor.Slot{"S1": {slotAt("T1300")}},
				booking:  tt.booking,
			}
			cache := cacheWith()
			e := newTestEngine(t, portal, cache, jan1)

			out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01", AutoBook: true, ProcedureCode: "WB"})
			assert.Equal(t, tt.wantSuccess, out.Success)
			assert.Equal(t, tt.wantSuccess, out.Booked)
			assert.Equal(t, tt.wantRefresh, cache.refreshes)
			require.NotNil(t, out.Candidate, "candidate is attached either way")
			require.Len(t, portal.booked, 1)
			assert.Equal(t, blooddonor.BookingRequest{
				SessionID:     "S1",
				SessionDate:   "2024-01-01T00:00:00",
				SessionTime:   "T1300",
				VenueID:       "V1",
				ProcedureCode: "WB",
			}, portal.booked[0])
			if tt.wantSuccess {
				assert.Equal(t, MessageBooked, out.Message)
				assert.Empty(t, out.Error)
			} else {
				assert.Equal(t, tt.wantError, out.Error)
				assert.Equal(t, "Failed to book appointment: "+tt.wantError, out.Message)
			}
		})
	}
}

func TestRunLoginFailure(t *testing.T) {
	portal := &fakePortal{}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01"})
	assert.Equal(t, ReasonLoginFailed, out.Error)
	assert.Equal(t, 1, portal.logins)
	assert.Empty(t, portal.sessionQueries)
}

func TestRunAuthFailureMidRunReportsLoginFailure(t *testing.T) {
	tests := []struct {
		name   string
		portal *fakePortal
	}{
		{
			name:   "session lookup",
			portal: &fakePortal{hasToken: true, sessionsErr: blooddonor.ErrNotAuthenticated},
		},
		{
			name: "slot lookup",
			portal: &fakePortal{
				hasToken: true,
				sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-01")},
				slotsErr: blooddonor.ErrNotAuthenticated,
			},
		},
		{
			name: "booking",
			portal: &fakePortal{
				hasToken: true,
				sessions: []blooddonor.VenueSession{openSession("S1", "2024-01-01")},
				slots:    map[string][]blooddonor.Slot{"S1": {slotAt("T1300")}},
				booking:  blooddonor.BookingOutcome{Error: blooddonor.BookingAuthFailed},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := cacheWith()
			e := newTestEngine(t, tt.portal, cache, jan1)

			out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01", AutoBook: true})
			assert.False(t, out.Success)
			assert.False(t, out.Booked)
			assert.Equal(t, ReasonLoginFailed, out.Error)
			assert.Zero(t, tt.portal.logins, "token already existed")
			assert.Zero(t, cache.refreshes)
		})
	}
}

func TestRunUsesStaleCacheWhenRefreshFails(t *testing.T) {
	portal := &fakePortal{hasToken: true}
	cache := cacheWith(apptOn("2024-01-10"))
	cache.ensureErr = errors.New("update failed")
	e := newTestEngine(t, portal, cache, jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDayOfWeek: "wednesday"})
	assert.Equal(t, "2024-01-24", out.EarliestAllowed)
}

func TestRunRecoversPanic(t *testing.T) {
	portal := &fakePortal{
		hasToken:     true,
		sessions:     []blooddonor.VenueSession{openSession("S1", "2024-01-01")},
		panicOnSlots: true,
	}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1", TargetDate: "2024-01-01"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unexpected payload")
}

func TestValidate(t *testing.T) {
	e := newTestEngine(t, &fakePortal{}, cacheWith(), jan1)

	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"ok by day", Request{VenueID: "V1", TargetDayOfWeek: "Friday"}, ""},
		{"ok by date with time", Request{VenueID: "V1", TargetDate: "2024-02-02", TargetTime: "9:30", MinDaysFromLastAppointment: intp(0)}, ""},
		{"missing venue", Request{TargetDate: "2024-02-02"}, "venue_id is required"},
		{"missing target", Request{VenueID: "V1"}, ReasonMissingTarget},
		{"both targets", Request{VenueID: "V1", TargetDate: "2024-02-02", TargetDayOfWeek: "friday"}, "only one"},
		{"bad day", Request{VenueID: "V1", TargetDayOfWeek: "caturday"}, "invalid day of week"},
		{"bad date", Request{VenueID: "V1", TargetDate: "02/02/2024"}, "target_date"},
		{"bad time", Request{VenueID: "V1", TargetDate: "2024-02-02", TargetTime: "25:00"}, "target_time"},
		{"negative tolerance", Request{VenueID: "V1", TargetDate: "2024-02-02", ToleranceHours: f64(-1)}, "tolerance_hours"},
		{"tolerance beyond a day", Request{VenueID: "V1", TargetDate: "2024-02-02", ToleranceHours: f64(30)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunValidationFailureMakesNoCalls(t *testing.T) {
	portal := &fakePortal{hasToken: true}
	e := newTestEngine(t, portal, cacheWith(), jan1)

	out := e.Run(context.Background(), Request{VenueID: "V1"})
	assert.Equal(t, ReasonMissingTarget, out.Error)
	assert.Empty(t, portal.sessionQueries)
}
