package blooddonor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	loginPath      = "/api/auth/v2/login"
	maxAuthRetries = 1
	expirySkew     = 30 * time.Second
)

var (
	// ErrNotAuthenticated means login failed or the service kept rejecting the token after one re-login.
	ErrNotAuthenticated = errors.New("blooddonor: not authenticated")
	ErrUnexpectedStatus = errors.New("blooddonor: unexpected status")
	ErrDecode           = errors.New("blooddonor: decode response")
)

// BookingAuthFailed is the BookingOutcome error when the service rejected every token.
const BookingAuthFailed = "Authentication failed"

// StatusError carries a non-200 response from the service.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("blooddonor: %s returned %d: %s", e.Endpoint, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Token is the result of one successful login. It is replaced as a whole.
type Token struct {
	AccessToken  string
	RefreshToken string
	DonorID      string
	ExpiresAt    time.Time
}

func (t Token) Valid() bool { return t.AccessToken != "" }

// Expired reports whether the access token's exp claim has passed (with skew).
// Opaque tokens never expire locally; the service's 401 is authoritative.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-expirySkew))
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

type loginRequest struct {
	Username           string `json:"username"`
	Password           string `json:"password"`
	Platform           string `json:"platform"`
	PlasmaLoginAllowed bool   `json:"plasmaLoginAllowed"`
}

type loginResponse struct {
	AccessToken    string `json:"accessToken"`
	RefreshToken   string `json:"refreshToken"`
	AccountDetails *struct {
		DonorID string `json:"donorID"`
	} `json:"accountDetails"`
}

// Login authenticates with the stored credentials. On any failure the previous
// token is left in place and false is returned.
func (c *Client) Login(ctx context.Context) bool {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	payload, err := json.Marshal(loginRequest{
		Username:           c.creds.Username,
		Password:           c.creds.Password,
		Platform:           "web",
		PlasmaLoginAllowed: true,
	})
	if err != nil {
		c.logger.Error("failed to encode login request", "error", err)
		return false
	}

	resp, err := c.send(ctx, request{
		endpoint: "login",
		method:   http.MethodPost,
		path:     loginPath,
		timeout:  c.authTimeout,
	}, payload, "")
	if err != nil {
		c.logger.Error("login request failed", "error", err)
		return false
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("login rejected", "status", resp.StatusCode, "body", resp.preview())
		return false
	}

	var decoded loginResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		c.logger.Error("failed to parse login response", "error", err)
		return false
	}
	if decoded.AccessToken == "" {
		c.logger.Error("login response carried no access token")
		return false
	}

	next := Token{
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		ExpiresAt:    tokenExpiry(decoded.AccessToken),
	}
	if decoded.AccountDetails != nil {
		next.DonorID = decoded.AccountDetails.DonorID
	} else {
		c.logger.Error("login succeeded but accountDetails missing from response")
	}

	c.mu.Lock()
	c.token = next
	c.mu.Unlock()

	c.logger.Debug("login successful", "donor_id", next.DonorID, "token_prefix", prefix(next.AccessToken, 10))
	return true
}

func (c *Client) currentToken() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// HasToken reports whether a login has succeeded at least once.
func (c *Client) HasToken() bool {
	return c.currentToken().Valid()
}

func (c *Client) DonorID() string {
	return c.currentToken().DonorID
}

// do sends an authenticated request. A missing or expired token triggers a
// login first; a 401 triggers exactly one re-login and retry.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("blooddonor: marshal %s request: %w", r.endpoint, err)
		}
		payload = b
	}

	if tok := c.currentToken(); !tok.Valid() || tok.Expired(c.now()) {
		if !c.Login(ctx) {
			return nil, ErrNotAuthenticated
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, r, payload, c.currentToken().AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		if attempt >= maxAuthRetries {
			c.logger.Error("still unauthorized after re-login", "endpoint", r.endpoint)
			return nil, ErrNotAuthenticated
		}
		c.logger.Debug("token rejected, logging in again", "endpoint", r.endpoint)
		ok := c.Login(ctx)
		c.metrics.ObserveReauth(ok)
		if !ok {
			return nil, ErrNotAuthenticated
		}
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
