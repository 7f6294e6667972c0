package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Login exchanges credentials for a token. The token is not attached
// automatically; call SetToken.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DayRequest is the start-day and end-day body. WorkLocationType is only
// read by start-day.
type DayRequest struct {
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Address          string   `json:"address,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	WorkLocationType string   `json:"workLocationType,omitempty"`
}

type StartDayResult struct {
	AttendanceID string    `json:"attendanceId"`
	StartTime    time.Time `json:"startTime"`
	WorkLocation string    `json:"workLocation"`
}

func (c *Client) StartDay(ctx context.Context, userID string, req DayRequest) (*StartDayResult, error) {
	var out StartDayResult
	if err := c.do(ctx, http.MethodPost, userPath("/api/attendance/start-day/", userID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EndDay(ctx context.Context, userID string, req DayRequest) error {
	return c.do(ctx, http.MethodPost, userPath("/api/attendance/end-day/", userID), req, nil)
}

// Status is the server's view of the caller's workday.
type Status struct {
	DayStarted   bool       `json:"dayStarted"`
	AttendanceID string     `json:"attendanceId"`
	StartTime    *time.Time `json:"startTime"`
	WorkLocation string     `json:"workLocation"`
}

func (c *Client) AttendanceStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/attendance/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batch is one activity transmission.
type Batch struct {
	AttendanceID     string    `json:"attendanceId"`
	Timestamp        time.Time `json:"timestamp"`
	MouseEvents      int       `json:"mouseEvents"`
	KeyboardEvents   int       `json:"keyboardEvents"`
	IdleSeconds      int       `json:"idleSeconds"`
	ActiveApp        string    `json:"activeApp"`
	IntervalDuration int       `json:"intervalDuration"`
}

// IngestActivity fails with apierr.DayNotActive when the server has no open
// day for the caller.
func (c *Client) IngestActivity(ctx context.Context, b Batch) error {
	return c.do(ctx, http.MethodPost, "/api/agent/activity/ingest", b, nil)
}

type Summary struct {
	TotalLogs           int      `json:"totalLogs"`
	TotalKeystrokes     int      `json:"totalKeystrokes"`
	TotalMouseEvents    int      `json:"totalMouseEvents"`
	TotalIdleSeconds    int      `json:"totalIdleSeconds"`
	AverageProductivity float64  `json:"averageProductivity"`
	AverageMouseScore   float64  `json:"averageMouseScore"`
	Applications        []string `json:"applications"`
}

// ActivitySummary reads the user's totals. Zero from and to select the
// server's current work date.
func (c *Client) ActivitySummary(ctx context.Context, userID string, from, to time.Time) (*Summary, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.Format(time.RFC3339))
	}
	path := userPath("/api/agent/activity/summary/", userID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Summary Summary `json:"summary"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Summary, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
