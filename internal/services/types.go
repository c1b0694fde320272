package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Result codes that let the HTTP layer pick a status without string matching.
const (
	CodeInvalidRequest = "invalid_request"
	CodeBusy           = "busy"
)

// Result is what every operation returns. Failures are data, not errors.
type Result struct {
	OperationID string `json:"operation_id"`
	Operation   string `json:"operation"`
	Success     bool   `json:"success"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Appointment any    `json:"appointment"`
	Error       string `json:"error"`
	Data        any    `json:"data,omitempty"`
}

// MarshalJSON always emits appointment and error, using null when unset.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	return json.Marshal(struct {
		plain
		Error *string `json:"error"`
	}{plain: plain(r), Error: errText})
}

type AvailableAppointmentsRequest struct {
	VenueID       string `json:"venue_id" validate:"required"`
	StartDate     string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ProcedureCode string `json:"procedure_code,omitempty"`
}

type SessionSlotsRequest struct {
	SessionID     string `json:"session_id" validate:"required"`
	SessionDate   string `json:"session_date" validate:"required"`
	ProcedureCode string `json:"procedure_code,omitempty"`
	VenueID       string `json:"venue_id,omitempty"`
}

type BookAppointmentRequest struct {
	SessionID     string `json:"session_id" validate:"required"`
	SessionDate   string `json:"session_date" validate:"required"`
	SessionTime   string `json:"session_time" validate:"required"`
	VenueID       string `json:"venue_id" validate:"required"`
	ProcedureCode string `json:"procedure_code,omitempty"`
}

type VenueSearchRequest struct {
	SearchCriteria string   `json:"search_criteria" validate:"required"`
	ProcedureCode  string   `json:"procedure_code,omitempty"`
	StartDate      string   `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	MaxDistance    *float64 `json:"max_distance,omitempty" validate:"omitempty,gt=0"`
}

type PeriodAvailability struct {
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	AvailableSlots int    `json:"available_slots"`
}

// DateAvailability summarizes one session with free capacity.
type DateAvailability struct {
	Date            string               `json:"date"`
	TotalAvailable  int                  `json:"total_available"`
	Periods         []PeriodAvailability `json:"periods"`
	SessionID       string               `json:"session_id"`
	SessionDateFull string               `json:"session_date_full"`
}

// SessionDetails is remembered per session id so later slot lookups can omit the venue.
type SessionDetails struct {
	VenueID        string `json:"venue_id"`
	SessionDate    string `json:"session_date"`
	TotalAvailable int    `json:"total_available"`
	ProcedureCode  string `json:"procedure_code,omitempty"`
}

type SlotView struct {
	Time             string `json:"time"`
	SessionTime      string `json:"session_time"`
	Procedure        string `json:"procedure"`
	ProcedureCode    string `json:"procedure_code,omitempty"`
	LastOneAvailable bool   `json:"last_one_available"`
}

type SessionSlots struct {
	SessionID   string     `json:"session_id"`
	SessionDate string     `json:"session_date"`
	VenueID     string     `json:"venue_id,omitempty"`
	Slots       []SlotView `json:"slots"`
}

type BookedAppointment struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Venue     string `json:"venue"`
	Procedure string `json:"procedure"`
}

type VenueView struct {
	VenueID     string  `json:"venue_id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Distance    float64 `json:"distance"`
	Address     string  `json:"address"`
	Postcode    string  `json:"postcode"`
	NextSession string  `json:"next_session"`
}

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and flattens failures into one message.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return &ValidationError{Err: err}
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &ValidationError{Err: errors.New(strings.Join(msgs, "; "))}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must be YYYY-MM-DD", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
