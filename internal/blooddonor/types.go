package blooddonor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusConfirmed is the booking status the service returns for a confirmed appointment.
const StatusConfirmed = "B"

const dateLayout = "2006-01-02"

// Credentials are the donor account login details.
type Credentials struct {
	Username string
	Password string
}

type Address struct {
	Lines    []string `json:"lines"`
	Postcode string   `json:"postcode"`
}

// Joined returns the non-blank address lines joined with ", ".
func (a Address) Joined() string {
	parts := make([]string, 0, len(a.Lines))
	for _, line := range a.Lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

type Venue struct {
	VenueID   string  `json:"venueId"`
	VenueName string  `json:"venueName"`
	Address   Address `json:"address"`
}

type AppointmentSession struct {
	SessionID   string `json:"sessionId"`
	SessionDate string `json:"sessionDate"`
	Venue       Venue  `json:"venue"`
}

// Appointment is a booked donation as listed on the account.
type Appointment struct {
	AppointmentID        string             `json:"appointmentId,omitempty"`
	Session              AppointmentSession `json:"session"`
	Time                 string             `json:"time"`
	ProcedureCode        string             `json:"procedureCode,omitempty"`
	ProcedureDescription string             `json:"procedureDescription,omitempty"`
	Status               string             `json:"status,omitempty"`
}

// Date parses the calendar date of the session ("2024-01-10" or "2024-01-10T00:00:00").
func (a Appointment) Date() (time.Time, error) {
	return ParseDate(a.Session.SessionDate)
}

// Key identifies the appointment; the provider id when present, else session_date_time.
func (a Appointment) Key() string {
	if a.AppointmentID != "" {
		return a.AppointmentID
	}
	return fmt.Sprintf("%s_%s_%s", a.Session.SessionID, DatePart(a.Session.SessionDate), a.Time)
}

// StartTime combines the session date with the slot time in loc. A missing or
// unparsable slot time defaults to noon.
func (a Appointment) StartTime(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := a.Date()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute := 12, 0
	if h, m, err := ParseClock(a.Time); err == nil {
		hour, minute = h, m
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}

type Eligibility struct {
	NextPossibleAppointmentDate string `json:"nextPossibleAppointmentDate"`
}

// AccountDetails is the donor profile returned by /api/account/v2/details.
type AccountDetails struct {
	DonorID        string        `json:"donorID"`
	FirstName      string        `json:"firstName,omitempty"`
	LastName       string        `json:"lastName,omitempty"`
	BloodGroup     string        `json:"bloodGroup"`
	DonationCredit int           `json:"donationCredit"`
	ProcedureType  string        `json:"procedureType"`
	Eligibility    Eligibility   `json:"eligibility"`
	Appointments   []Appointment `json:"appointments"`
}

type Period struct {
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime"`
	AvailableSlots int    `json:"availableSlots"`
}

// VenueSession is one venue's donation offering on a date.
type VenueSession struct {
	SessionID   string   `json:"sessionId"`
	SessionDate string   `json:"sessionDate"`
	Periods     []Period `json:"periods"`
}

func (s VenueSession) TotalAvailable() int {
	total := 0
	for _, p := range s.Periods {
		total += p.AvailableSlots
	}
	return total
}

func (s VenueSession) HasAvailability() bool {
	for _, p := range s.Periods {
		if p.AvailableSlots > 0 {
			return true
		}
	}
	return false
}

// Slot is a bookable time within a session; Time looks like "T1255".
type Slot struct {
	Time                 string `json:"time"`
	ProcedureCode        string `json:"procedureCode"`
	ProcedureDescription string `json:"procedureDescription"`
	LastOneAvailable     bool   `json:"lastOneAvailable"`
}

// Clock returns the slot's hour and minute.
func (s Slot) Clock() (int, int, error) {
	return ParseClock(s.Time)
}

type BookingRequest struct {
	SessionID     string `json:"sessionID"`
	SessionDate   string `json:"sessionDate"`
	SessionTime   string `json:"sessionTime"`
	VenueID       string `json:"venueId"`
	ProcedureCode string `json:"procedureCode"`
	Platform      string `json:"platform"`
}

type BookingVenue struct {
	VenueName string `json:"venueName"`
}

type BookingSession struct {
	Venue BookingVenue `json:"venue"`
}

type BookingResponse struct {
	Status               string         `json:"status"`
	Time                 string         `json:"time"`
	ProcedureDescription string         `json:"procedureDescription"`
	Session              BookingSession `json:"session"`
}

// BookingOutcome separates transport/auth failures (Status empty) from business
// rejections (Status set but not confirmed).
type BookingOutcome struct {
	Success bool             `json:"success"`
	Status  string           `json:"status,omitempty"`
	Data    *BookingResponse `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type Award struct {
	Title          string `json:"title"`
	CreditCriteria int    `json:"creditCriteria"`
	IsAchieved     bool   `json:"isAchieved"`
	AwardedDate    string `json:"awardedDate,omitempty"`
}

type Awards struct {
	AwardState        string  `json:"awardState"`
	TotalCredits      int     `json:"totalCredits"`
	TotalAwards       int     `json:"totalAwards"`
	RegistrationDate  string  `json:"registrationDate"`
	ShowAsAchievement bool    `json:"showAsAchievement"`
	Awards            []Award `json:"awards"`
}

type VenueResult struct {
	Venue             Venue   `json:"venue"`
	VenueDistance     float64 `json:"venueDistance"`
	IsDonorCentre     bool    `json:"isDonorCentre"`
	IsCommunityCentre bool    `json:"isCommunityCentre"`
	DateOfNextSession string  `json:"dateOfNextSession,omitempty"`
}

// TypeLabel describes the venue kind for display.
func (v VenueResult) TypeLabel() string {
	switch {
	case v.IsDonorCentre:
		return "Donor Centre"
	case v.IsCommunityCentre:
		return "Community Venue"
	default:
		return "Other Venue"
	}
}

// Data is the combined account view produced by GetData.
type Data struct {
	Account *AccountDetails
	Awards  *Awards
}

// NextAppointment returns the appointment with the earliest session date. It
// returns nil when the list is empty or any session date is unparsable.
func NextAppointment(appts []Appointment) *Appointment {
	if len(appts) == 0 {
		return nil
	}
	var (
		best     *Appointment
		bestDate time.Time
	)
	for i := range appts {
		d, err := appts[i].Date()
		if err != nil {
			return nil
		}
		if best == nil || d.Before(bestDate) {
			best = &appts[i]
			bestDate = d
		}
	}
	out := *best
	return &out
}

// DatePart strips a trailing "T..." from a provider date string.
func DatePart(s string) string {
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}

// ParseDate parses the date portion of a provider date string as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, DatePart(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}, fmt.Errorf("blooddonor: parse date %q: %w", s, err)
	}
	return d, nil
}

// ParseClock parses provider times such as "T1255", "1255" or "09:30".
func ParseClock(s string) (int, int, error) {
	digits := strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "T"), ":", "")
	if len(digits) != 4 || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, 0, fmt.Errorf("blooddonor: invalid time %q", s)
	}
	hour, err := strconv.Atoi(digits[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("blooddonor: invalid time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(digits[2:4])
	if err != nil {
		return 0, 0, fmt.Errorf("blooddonor: invalid time %q: %w", s, err)
	}
	if hour < 0 || minute < 0 || hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("blooddonor: time out of range %q", s)
	}
	return hour, minute, nil
}

// FormatHHMM renders a provider time such as "T0930" as "09:30". Unparsable
// values are returned unchanged.
func FormatHHMM(s string) string {
	h, m, err := ParseClock(s)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// FormatDateParam renders a date in the query format the sessions endpoint expects.
func FormatDateParam(t time.Time) string {
	return t.Format(dateLayout) + "T00:00:00"
}
