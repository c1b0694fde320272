package scheduler

import (
	"time"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
)

// Mode selects which refresh interval applies.
type Mode int

const (
	Standard Mode = iota
	NearAppointment
)

func (m Mode) String() string {
	if m == NearAppointment {
		return "near_appointment"
	}
	return "standard"
}

// SelectInterval picks the refresh mode from the soonest appointment.
//
//   - no appointments, or any unparsable date: standard
//   - today, more than 1h ahead: near
//   - today, between 1h ahead and 8h ago: near
//   - today, more than 8h ago: standard (treated as completed)
//   - another day, starting within the next 4h: near
//   - otherwise: standard
func SelectInterval(appts []blooddonor.Appointment, now time.Time, loc *time.Location) Mode {
	if loc == nil {
		loc = time.UTC
	}
	start, ok := soonestStart(appts, loc)
	if !ok {
		return Standard
	}

	now = now.In(loc)
	until := start.Sub(now)
	if sameDay(start, now) {
		// upcoming, in progress, or finished less than 8h ago
		if until >= -8*time.Hour {
			return NearAppointment
		}
		return Standard
	}
	if until > 0 && until <= 4*time.Hour {
		return NearAppointment
	}
	return Standard
}

// soonestStart orders by date, then by time of day (noon when absent).
func soonestStart(appts []blooddonor.Appointment, loc *time.Location) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, a := range appts {
		start, err := a.StartTime(loc)
		if err != nil {
			return time.Time{}, false
		}
		if !found || start.Before(best) {
			best = start
			found = true
		}
	}
	return best, found
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
