package services

import (
	"fmt"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/matching"
	"github.com/wolfman30/blood-donor-assistant/internal/notify"
)

// eventFor renders a Result into the notification body lines for its operation.
func eventFor(res Result) notify.Event {
	evt := notify.Event{
		Operation:   res.Operation,
		OperationID: res.OperationID,
		Success:     res.Success,
		Message:     res.Message,
		Error:       res.Error,
	}

	switch data := res.Data.(type) {
	case []DateAvailability:
		for _, d := range data {
			evt.Details = append(evt.Details, fmt.Sprintf("%s - %d slots (session %s)", d.Date, d.TotalAvailable, d.SessionID))
			for _, p := range d.Periods {
				evt.Details = append(evt.Details, fmt.Sprintf("  %s to %s: %d slots", p.StartTime, p.EndTime, p.AvailableSlots))
			}
		}
	case SessionSlots:
		evt.Details = append(evt.Details, fmt.Sprintf("Date: %s", data.SessionDate))
		if data.VenueID != "" {
			evt.Details = append(evt.Details, fmt.Sprintf("Venue ID: %s", data.VenueID))
		}
		for _, slot := range data.Slots {
			line := fmt.Sprintf("- %s - %s", slot.Time, slot.Procedure)
			if slot.LastOneAvailable {
				line += " (Last available slot!)"
			}
			evt.Details = append(evt.Details, line)
		}
	case []VenueView:
		for _, v := range data {
			evt.Details = append(evt.Details,
				fmt.Sprintf("%s (%s)", v.Name, v.VenueID),
				fmt.Sprintf("  Type: %s", v.Type),
				fmt.Sprintf("  Distance: %.2f miles", v.Distance),
				fmt.Sprintf("  Address: %s, %s", v.Address, v.Postcode),
				fmt.Sprintf("  Next session: %s", v.NextSession),
			)
		}
	case matching.Outcome:
		if c := data.Candidate; c != nil {
			evt.Details = append(evt.Details,
				fmt.Sprintf("Date: %s (%s)", c.Date, c.DayOfWeek),
				fmt.Sprintf("Time: %s", c.Time),
				fmt.Sprintf("Venue ID: %s", c.VenueID),
				fmt.Sprintf("Procedure: %s", c.Procedure),
				fmt.Sprintf("Time difference: %s hours", c.TimeDifference),
			)
		}
	case blooddonor.BookingOutcome:
		if appt, ok := res.Appointment.(BookedAppointment); ok {
			evt.Details = append(evt.Details,
				fmt.Sprintf("Date: %s", appt.Date),
				fmt.Sprintf("Time: %s", appt.Time),
				fmt.Sprintf("Venue: %s", appt.Venue),
				fmt.Sprintf("Procedure: %s", appt.Procedure),
			)
		}
	}
	return evt
}
