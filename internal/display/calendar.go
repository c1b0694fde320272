package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
)

const defaultProcedure = "Blood Donation"

// Event is one booked appointment rendered for a calendar.
type Event struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
}

// CalendarEvents returns the appointments overlapping [start, end). Appointments
// whose date cannot be parsed are skipped.
func CalendarEvents(snap scheduler.Snapshot, start, end time.Time, loc *time.Location) []Event {
	events := []Event{}
	for _, appt := range snap.Appointments() {
		ev, ok := ToEvent(appt, loc)
		if !ok {
			continue
		}
		if start.Before(ev.End) && ev.Start.Before(end) {
			events = append(events, ev)
		}
	}
	return events
}

// NextEvent renders the soonest appointment, or nil when there is none.
func NextEvent(snap scheduler.Snapshot, loc *time.Location) *Event {
	next := blooddonor.NextAppointment(snap.Appointments())
	if next == nil {
		return nil
	}
	ev, ok := ToEvent(*next, loc)
	if !ok {
		return nil
	}
	return &ev
}

func ToEvent(appt blooddonor.Appointment, loc *time.Location) (Event, bool) {
	start, err := appt.StartTime(loc)
	if err != nil {
		return Event{}, false
	}
	procedure := strings.TrimSpace(appt.ProcedureDescription)
	if procedure == "" {
		procedure = defaultProcedure
	}
	venue := appt.Session.Venue
	address := joinLines(venue.Address.Lines) + ", " + strings.TrimSpace(venue.Address.Postcode)

	return Event{
		UID:         eventUID(appt),
		Summary:     summary(procedure),
		Start:       start,
		End:         start.Add(Duration(procedure)),
		Description: fmt.Sprintf("Procedure: %s\nVenue: %s\nAddress: %s", procedure, venue.VenueName, address),
		Location:    venue.VenueName,
	}, true
}

// Duration is how long a donation of the given procedure is expected to take.
func Duration(procedure string) time.Duration {
	p := strings.ToLower(procedure)
	switch {
	case strings.Contains(p, "platelet"), strings.Contains(p, "plt"):
		return 90 * time.Minute
	case strings.Contains(p, "plasma"), strings.Contains(p, "pls"):
		return 60 * time.Minute
	default:
		return 45 * time.Minute
	}
}

func summary(procedure string) string {
	if strings.HasSuffix(strings.ToLower(procedure), "donation") {
		return procedure
	}
	return procedure + " Donation"
}

func eventUID(appt blooddonor.Appointment) string {
	if appt.AppointmentID != "" {
		return appt.AppointmentID
	}
	return fmt.Sprintf("%s_%s_%s", appt.Session.SessionID, blooddonor.DatePart(appt.Session.SessionDate),
		strings.ReplaceAll(appt.Time, "T", ""))
}
