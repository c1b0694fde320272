package blooddonor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/blood-donor-assistant/internal/observability/metrics"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

const (
	defaultBaseURL        = "https://my.blood.co.uk"
	defaultAuthTimeout    = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	previewLimit          = 300
)

var tracer = otel.Tracer("blooddonor.internal.blooddonor")

// Config configures the blood donation service client.
type Config struct {
	BaseURL        string
	Credentials    Credentials
	AuthTimeout    time.Duration // login, account details and awards
	RequestTimeout time.Duration // sessions, slots, booking and venues
	HTTPClient     *http.Client
	Logger         *logging.Logger
	Metrics        *metrics.DonorMetrics
	Clock          func() time.Time
}

// Client talks to the donor portal API on behalf of one account. It is safe
// for concurrent use.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	creds          Credentials
	authTimeout    time.Duration
	requestTimeout time.Duration
	logger         *logging.Logger
	metrics        *metrics.DonorMetrics
	now            func() time.Time

	loginMu sync.Mutex
	mu      sync.Mutex
	token   Token
}

// New constructs a Client. Credentials are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Credentials.Username) == "" {
		return nil, errors.New("blooddonor: username is required")
	}
	if cfg.Credentials.Password == "" {
		return nil, errors.New("blooddonor: password is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("blooddonor: invalid base url %q", cfg.BaseURL)
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Client{
		httpClient:     cfg.HTTPClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		creds:          cfg.Credentials,
		authTimeout:    cfg.AuthTimeout,
		requestTimeout: cfg.RequestTimeout,
		logger:         cfg.Logger.With("component", "blooddonor"),
		metrics:        cfg.Metrics,
		now:            cfg.Clock,
	}, nil
}

type request struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	body     any
	timeout  time.Duration
}

type response struct {
	StatusCode int
	Body       []byte
}

func (r *response) preview() string {
	return logging.Preview(r.Body, previewLimit)
}

// GetAccountDetails fetches the donor profile including appointments.
func (c *Client) GetAccountDetails(ctx context.Context) (*AccountDetails, error) {
	resp, err := c.do(ctx, request{
		endpoint: "account_details",
		method:   http.MethodGet,
		path:     "/api/account/v2/details",
		timeout:  c.authTimeout,
	})
	if err != nil {
		c.logger.Error("failed to fetch account details", "error", err)
		return nil, err
	}

	var details AccountDetails
	if err := c.decode("account_details", resp, &details); err != nil {
		return nil, err
	}
	var probe struct {
		Appointments json.RawMessage `json:"appointments"`
	}
	if err := json.Unmarshal(resp.Body, &probe); err == nil && probe.Appointments == nil {
		c.logger.Warn("appointments not found in account details response")
	}
	c.logger.Debug("fetched account details", "appointments", len(details.Appointments))
	return &details, nil
}

// GetAwards fetches the donor's award state.
func (c *Client) GetAwards(ctx context.Context) (*Awards, error) {
	resp, err := c.do(ctx, request{
		endpoint: "awards",
		method:   http.MethodGet,
		path:     "/api/account/awards",
		timeout:  c.authTimeout,
	})
	if err != nil {
		c.logger.Error("failed to fetch awards", "error", err)
		return nil, err
	}
	var awards Awards
	if err := c.decode("awards", resp, &awards); err != nil {
		return nil, err
	}
	return &awards, nil
}

// GetData fetches account details and, best effort, awards. Only the account
// details are required.
func (c *Client) GetData(ctx context.Context) (*Data, error) {
	account, err := c.GetAccountDetails(ctx)
	if err != nil {
		return nil, fmt.Errorf("blooddonor: get data: %w", err)
	}
	data := &Data{Account: account}
	if awards, err := c.GetAwards(ctx); err == nil {
		data.Awards = awards
	} else {
		c.logger.Warn("awards unavailable, continuing without them", "error", err)
	}
	return data, nil
}

// ListSessions lists a venue's sessions between start and end (inclusive dates).
// The returned slice is never nil.
func (c *Client) ListSessions(ctx context.Context, venueID string, start, end time.Time, procedureCode string) ([]VenueSession, error) {
	q := url.Values{}
	q.Set("startDate", FormatDateParam(start))
	q.Set("endDate", FormatDateParam(end))
	if procedureCode != "" {
		q.Set("procedureCode", procedureCode)
	}
	resp, err := c.do(ctx, request{
		endpoint: "sessions",
		method:   http.MethodGet,
		path:     "/api/sessions/" + url.PathEscape(venueID),
		query:    q,
		timeout:  c.requestTimeout,
	})
	if err != nil {
		c.logger.Error("failed to list sessions", "venue_id", venueID, "error", err)
		return []VenueSession{}, err
	}
	var wrapped struct {
		Sessions []VenueSession `json:"sessions"`
	}
	if err := c.decode("sessions", resp, &wrapped); err != nil {
		return []VenueSession{}, err
	}
	if wrapped.Sessions == nil {
		return []VenueSession{}, nil
	}
	return wrapped.Sessions, nil
}

// ListSlots lists bookable times within a session. The returned slice is never nil.
func (c *Client) ListSlots(ctx context.Context, sessionID, sessionDate, procedureCode string) ([]Slot, error) {
	q := url.Values{}
	q.Set("sessionDate", sessionDate)
	if procedureCode != "" {
		q.Set("procedureCode", procedureCode)
	}
	resp, err := c.do(ctx, request{
		endpoint: "slots",
		method:   http.MethodGet,
		path:     fmt.Sprintf("/api/appointments/%s/slots", url.PathEscape(sessionID)),
		query:    q,
		timeout:  c.requestTimeout,
	})
	if err != nil {
		c.logger.Error("failed to list slots", "session_id", sessionID, "error", err)
		return []Slot{}, err
	}
	var wrapped struct {
		Slots []Slot `json:"slots"`
	}
	if err := c.decode("slots", resp, &wrapped); err != nil {
		return []Slot{}, err
	}
	if wrapped.Slots == nil {
		return []Slot{}, nil
	}
	return wrapped.Slots, nil
}

// Book submits a booking. Only status "B" counts as success; any other status
// is reported as a business failure carrying that status.
func (c *Client) Book(ctx context.Context, req BookingRequest) BookingOutcome {
	if req.Platform == "" {
		req.Platform = "web"
	}
	resp, err := c.do(ctx, request{
		endpoint: "book",
		method:   http.MethodPost,
		path:     "/api/appointments/book",
		body:     req,
		timeout:  c.requestTimeout,
	})
	if errors.Is(err, ErrNotAuthenticated) {
		return BookingOutcome{Error: BookingAuthFailed}
	}
	if err != nil {
		c.logger.Error("booking request failed", "session_id", req.SessionID, "error", err)
		return BookingOutcome{Error: fmt.Sprintf("Booking request failed: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("booking rejected", "status", resp.StatusCode, "body", resp.preview())
		return BookingOutcome{Error: fmt.Sprintf("Booking failed with status %d: %s", resp.StatusCode, resp.preview())}
	}

	var booked BookingResponse
	if err := json.Unmarshal(resp.Body, &booked); err != nil {
		c.logger.Error("failed to parse booking response", "error", err, "body", resp.preview())
		return BookingOutcome{Error: "Failed to parse booking response"}
	}
	if booked.Status != StatusConfirmed {
		c.logger.Warn("booking not confirmed", "status", booked.Status, "session_id", req.SessionID)
		return BookingOutcome{
			Status: booked.Status,
			Data:   &booked,
			Error:  fmt.Sprintf("Booking returned status: %s", booked.Status),
		}
	}
	c.logger.Info("appointment booked", "session_id", req.SessionID, "venue_id", req.VenueID, "time", booked.Time)
	return BookingOutcome{Success: true, Status: booked.Status, Data: &booked}
}

// SearchVenues looks up venues near a postcode or town. The returned slice is never nil.
func (c *Client) SearchVenues(ctx context.Context, criteria string, start time.Time, procedureCode string) ([]VenueResult, error) {
	q := url.Values{}
	q.Set("searchCriteria", criteria)
	q.Set("startDate", FormatDateParam(start))
	if procedureCode != "" {
		q.Set("procedureCode", procedureCode)
	}
	resp, err := c.do(ctx, request{
		endpoint: "venues",
		method:   http.MethodGet,
		path:     "/api/venues",
		query:    q,
		timeout:  c.requestTimeout,
	})
	if err != nil {
		c.logger.Error("failed to search venues", "search_criteria", criteria, "error", err)
		return []VenueResult{}, err
	}
	var wrapped struct {
		Results []VenueResult `json:"results"`
	}
	if err := c.decode("venues", resp, &wrapped); err != nil {
		return []VenueResult{}, err
	}
	if wrapped.Results == nil {
		return []VenueResult{}, nil
	}
	return wrapped.Results, nil
}

func (c *Client) decode(endpoint string, resp *response, out any) error {
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("unexpected response", "endpoint", endpoint, "status", resp.StatusCode, "body", resp.preview())
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: resp.preview()}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		c.logger.Error("failed to parse response", "endpoint", endpoint, "error", err, "body", resp.preview())
		return fmt.Errorf("%w: %s: %v", ErrDecode, endpoint, err)
	}
	return nil
}

// send performs one HTTP round trip under the request's timeout.
func (c *Client) send(ctx context.Context, r request, payload []byte, accessToken string) (*response, error) {
	ctx, span := tracer.Start(ctx, "blooddonor."+r.endpoint)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", r.method), attribute.String("blooddonor.endpoint", r.endpoint))

	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.requestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, bodyReader)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("blooddonor: build %s request: %w", r.endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(r.endpoint, 0, time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("blooddonor: %s request: %w", r.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.ObserveUpstream(r.endpoint, resp.StatusCode, time.Since(started))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("blooddonor: read %s response: %w", r.endpoint, err)
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	out := &response{StatusCode: resp.StatusCode, Body: body}
	if r.endpoint == "login" {
		// login bodies carry tokens
		c.logger.Debug("blood donor response", "endpoint", r.endpoint, "status", resp.StatusCode)
	} else {
		c.logger.Debug("blood donor response", "endpoint", r.endpoint, "status", resp.StatusCode, "body", out.preview())
	}
	return out, nil
}
