// Package display turns a cached account snapshot into read-only views for dashboards.
package display

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
)

// AllMilestonesAchieved is reported once every award threshold has been reached.
const AllMilestonesAchieved = "All milestones achieved"

// Sensor is a single named reading. State is nil when the snapshot has no data for it.
type Sensor struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Icon       string `json:"icon,omitempty"`
	Unit       string `json:"unit,omitempty"`
	State      any    `json:"state"`
	Attributes any    `json:"attributes,omitempty"`
}

type NextAppointmentAttributes struct {
	Time                    string `json:"time"`
	DateStr                 string `json:"date_str"`
	Procedure               string `json:"procedure"`
	Venue                   string `json:"venue"`
	Address                 string `json:"address"`
	Postcode                string `json:"postcode"`
	NextPossibleAppointment string `json:"next_possible_appointment,omitempty"`
}

type AppointmentSummary struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Venue     string `json:"venue"`
	Procedure string `json:"procedure"`
}

type UpcomingAttributes struct {
	AllAppointments []AppointmentSummary `json:"all_appointments"`
}

type AchievedAward struct {
	Title          string `json:"title"`
	CreditCriteria int    `json:"credit_criteria"`
	AwardedDate    string `json:"awarded_date,omitempty"`
}

type AwardStateAttributes struct {
	ShowAsAchievement bool            `json:"show_as_achievement"`
	AchievedAwards    []AchievedAward `json:"achieved_awards"`
	TotalCredits      int             `json:"total_credits"`
}

type MilestoneAttributes struct {
	NextMilestoneCredits *int   `json:"next_milestone_credits"`
	NextMilestoneTitle   string `json:"next_milestone_title"`
	CurrentCredits       int    `json:"current_credits"`
	CreditsNeeded        int    `json:"credits_needed"`
	ProgressPercentage   int    `json:"progress_percentage"`
}

// State is every sensor for one snapshot, in display order.
func State(snap scheduler.Snapshot) []Sensor {
	return []Sensor{
		NextAppointmentSensor(snap),
		DonationCreditSensor(snap),
		UpcomingAppointmentsSensor(snap),
		AwardStateSensor(snap),
		TotalAwardsSensor(snap),
		NextMilestoneSensor(snap),
	}
}

func NextAppointmentSensor(snap scheduler.Snapshot) Sensor {
	s := Sensor{Key: "next_appointment", Name: "Next Appointment", Icon: "mdi:calendar-clock"}
	if !snap.HasData() {
		return s
	}
	sorted, ok := sortedByDate(snap.Account.Appointments)
	if !ok || len(sorted) == 0 {
		return s
	}
	next := sorted[0]
	day, _ := next.Date()
	dateStr := day.Format("2006-01-02")
	s.State = dateStr
	venue := next.Session.Venue
	s.Attributes = NextAppointmentAttributes{
		Time:                    twelveHour(next.Time),
		DateStr:                 dateStr,
		Procedure:               next.ProcedureDescription,
		Venue:                   venue.VenueName,
		Address:                 joinLines(venue.Address.Lines),
		Postcode:                strings.TrimSpace(venue.Address.Postcode),
		NextPossibleAppointment: nextPossible(snap.Account.Eligibility.NextPossibleAppointmentDate),
	}
	return s
}

func DonationCreditSensor(snap scheduler.Snapshot) Sensor {
	s := Sensor{Key: "donation_credit", Name: "Donation Credit", Icon: "mdi:water", Unit: "units"}
	if snap.HasData() {
		s.State = snap.Account.DonationCredit
	}
	return s
}

func UpcomingAppointmentsSensor(snap scheduler.Snapshot) Sensor {
	s := Sensor{Key: "total_appointments", Name: "Upcoming Appointments", Icon: "mdi:calendar-multiple"}
	if !snap.HasData() {
		return s
	}
	appts := snap.Account.Appointments
	s.State = len(appts)
	attrs := UpcomingAttributes{AllAppointments: []AppointmentSummary{}}
	sorted, ok := sortedByDate(appts)
	if ok {
		for _, a := range sorted {
			attrs.AllAppointments = append(attrs.AllAppointments, AppointmentSummary{
				Date:      blooddonor.DatePart(a.Session.SessionDate),
				Time:      strings.ReplaceAll(a.Time, "T", ""),
				Venue:     a.Session.Venue.VenueName,
				Procedure: a.ProcedureDescription,
			})
		}
	}
	s.Attributes = attrs
	return s
}

func AwardStateSensor(snap scheduler.Snapshot) Sensor {
	s := Sensor{Key: "award_state", Name: "Award State", Icon: "mdi:trophy"}
	if snap.Awards == nil {
		return s
	}
	s.State = snap.Awards.AwardState
	achieved := []AchievedAward{}
	for _, a := range snap.Awards.Awards {
		if !a.IsAchieved {
			continue
		}
		award := AchievedAward{Title: a.Title, CreditCriteria: a.CreditCriteria}
		if a.AwardedDate != "" {
			if d, err := blooddonor.ParseDate(a.AwardedDate); err == nil {
				award.AwardedDate = d.Format("02 Jan 2006")
			}
		}
		achieved = append(achieved, award)
	}
	sort.SliceStable(achieved, func(i, j int) bool {
		return achieved[i].CreditCriteria > achieved[j].CreditCriteria
	})
	s.Attributes = AwardStateAttributes{
		ShowAsAchievement: snap.Awards.ShowAsAchievement,
		AchievedAwards:    achieved,
		TotalCredits:      snap.Awards.TotalCredits,
	}
	return s
}

func TotalAwardsSensor(snap scheduler.Snapshot) Sensor {
	s := Sensor{Key: "total_awards", Name: "Total Awards", Icon: "mdi:medal"}
	if snap.Awards != nil {
		s.State = snap.Awards.TotalAwards
	}
	return s
}

// NextMilestoneSensor reports the lowest award threshold above the current credits.
func NextMilestoneSensor(snap scheduler.Snapshot) Sensor {
	s := Sensor{Key: "next_milestone", Name: "Next Milestone", Icon: "mdi:flag-checkered"}
	if snap.Awards == nil {
		return s
	}
	credits := snap.Awards.TotalCredits
	awards := append([]blooddonor.Award(nil), snap.Awards.Awards...)
	sort.SliceStable(awards, func(i, j int) bool {
		return awards[i].CreditCriteria < awards[j].CreditCriteria
	})

	for _, a := range awards {
		if a.CreditCriteria <= credits {
			continue
		}
		title := a.Title
		if title == "" {
			title = "Unknown"
		}
		criteria := a.CreditCriteria
		s.State = title
		s.Attributes = MilestoneAttributes{
			NextMilestoneCredits: &criteria,
			NextMilestoneTitle:   title,
			CurrentCredits:       credits,
			CreditsNeeded:        criteria - credits,
			ProgressPercentage:   Progress(credits, criteria),
		}
		return s
	}

	s.State = AllMilestonesAchieved
	s.Attributes = MilestoneAttributes{
		NextMilestoneTitle: AllMilestonesAchieved,
		CurrentCredits:     credits,
		ProgressPercentage: 100,
	}
	return s
}

// Progress is credits as a rounded percentage of criteria, capped at 100.
func Progress(credits, criteria int) int {
	if criteria <= 0 || credits <= 0 {
		return 0
	}
	pct := int(math.Round(float64(credits) / float64(criteria) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

// sortedByDate returns a date-ordered copy; ok is false when any date fails to parse.
func sortedByDate(appts []blooddonor.Appointment) ([]blooddonor.Appointment, bool) {
	type dated struct {
		appt blooddonor.Appointment
		key  string
	}
	out := make([]dated, 0, len(appts))
	for _, a := range appts {
		d, err := a.Date()
		if err != nil {
			return nil, false
		}
		out = append(out, dated{appt: a, key: d.Format("2006-01-02")})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].key < out[j].key })
	sorted := make([]blooddonor.Appointment, len(out))
	for i, d := range out {
		sorted[i] = d.appt
	}
	return sorted, true
}

// twelveHour renders "T1305" as "1:05 PM". Noon stays "12:xx PM".
func twelveHour(raw string) string {
	h, m, err := blooddonor.ParseClock(raw)
	if err != nil {
		return strings.TrimPrefix(raw, "T")
	}
	switch {
	case h > 12:
		return fmt.Sprintf("%d:%02d PM", h-12, m)
	case h == 12:
		return fmt.Sprintf("%d:%02d PM", h, m)
	default:
		return fmt.Sprintf("%d:%02d AM", h, m)
	}
}

func joinLines(lines []string) string {
	trimmed := make([]string, len(lines))
	for i, l := range lines {
		trimmed[i] = strings.TrimSpace(l)
	}
	return strings.Join(trimmed, ", ")
}

func nextPossible(raw string) string {
	if raw == "" {
		return ""
	}
	d, err := blooddonor.ParseDate(raw)
	if err != nil {
		return raw
	}
	return d.Format("2006-01-02")
}
