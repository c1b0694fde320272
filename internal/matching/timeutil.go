package matching

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
)

const (
	DefaultTargetTime      = "12:55"
	DefaultToleranceHours  = 2.0
	DefaultMinDaysFromLast = 14

	// fallbackGapDays stands in for the last donation when the account lists none.
	fallbackGapDays = 60
)

var daysOfWeek = map[string]int{
	"monday":    0,
	"tuesday":   1,
	"wednesday": 2,
	"thursday":  3,
	"friday":    4,
	"saturday":  5,
	"sunday":    6,
}

// ParseDayOfWeek maps a day name (any case) to 0=Monday through 6=Sunday.
func ParseDayOfWeek(name string) (int, error) {
	idx, ok := daysOfWeek[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("invalid day of week %q: must be monday through sunday", name)
	}
	return idx, nil
}

// NormalizeTime turns "12:55:00", "1255", "9:30" or "930" into "HH:MM".
// Empty input yields DefaultTargetTime.
func NormalizeTime(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return DefaultTargetTime
	}
	if strings.Count(in, ":") == 2 {
		in = in[:strings.LastIndex(in, ":")]
	}
	digits := strings.ReplaceAll(in, ":", "")
	if len(digits) < 4 {
		digits = strings.Repeat("0", 4-len(digits)) + digits
	}
	return digits[:2] + ":" + digits[2:]
}

// parseHHMM validates a normalized "HH:MM" string.
func parseHHMM(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return h, m, nil
}

// civil truncates t to its calendar date in t's location, expressed as UTC midnight.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LastAppointmentDate returns the latest appointment date, past or future.
// With no appointments, or none parseable, it returns today minus 60 days.
func LastAppointmentDate(appts []blooddonor.Appointment, today time.Time) time.Time {
	var (
		latest time.Time
		found  bool
	)
	for _, a := range appts {
		d, err := a.Date()
		if err != nil {
			continue
		}
		if !found || d.After(latest) {
			latest = d
			found = true
		}
	}
	if !found {
		return civil(today).AddDate(0, 0, -fallbackGapDays)
	}
	return latest
}

// EarliestAllowedDate is max(last appointment + minDays, today).
func EarliestAllowedDate(appts []blooddonor.Appointment, minDays int, today time.Time) time.Time {
	today = civil(today)
	earliest := LastAppointmentDate(appts, today).AddDate(0, 0, minDays)
	if earliest.Before(today) {
		return today
	}
	return earliest
}

// ResolveTargetDate advances 0-6 days from earliest to the requested weekday (0=Monday).
func ResolveTargetDate(earliest time.Time, weekday int) time.Time {
	current := (int(earliest.Weekday()) + 6) % 7
	return earliest.AddDate(0, 0, ((weekday-current)%7+7)%7)
}

// Window is the inclusive range of acceptable slot start times.
type Window struct {
	Target time.Time `json:"target"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ToleranceWindow builds [target-hours, target+hours] clamped to 00:00:00-23:59:59 of date.
func ToleranceWindow(date time.Time, hour, minute int, hours float64, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	target := time.Date(y, m, d, hour, minute, 0, 0, loc)
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := time.Date(y, m, d, 23, 59, 59, 0, loc)
	// A day or more covers the whole date; larger values would overflow Duration.
	if hours >= 24 {
		return Window{Target: target, Start: dayStart, End: dayEnd}
	}
	tol := time.Duration(hours * float64(time.Hour))

	start := target.Add(-tol)
	if start.Before(dayStart) {
		start = dayStart
	}
	end := target.Add(tol)
	if end.After(dayEnd) {
		end = dayEnd
	}
	return Window{Target: target, Start: start, End: end}
}

// SlotCandidate is a slot inside the window with its distance from the target.
type SlotCandidate struct {
	Slot        blooddonor.Slot
	SessionID   string
	SessionDate string
	At          time.Time
	DiffHours   float64
}

// RankSlots stable-sorts candidates by absolute distance from target, so ties
// keep their listing order.
func RankSlots(cands []SlotCandidate, target time.Time) []SlotCandidate {
	out := make([]SlotCandidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].DiffHours = math.Abs(out[i].At.Sub(target).Hours())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DiffHours < out[j].DiffHours })
	return out
}
