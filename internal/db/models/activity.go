package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivitySample is one persisted transmission from an agent. Samples are
// append-only.
type ActivitySample struct {
	ID                  uuid.UUID `db:"id"`
	EmployeeID          uuid.UUID `db:"employee_id"`
	Timestamp           time.Time `db:"ts"`
	KeystrokeCount      int       `db:"keystroke_count"`
	MouseEvents         int       `db:"mouse_events"`
	MouseActivityScore  int       `db:"mouse_activity_score"`
	IdleDurationSeconds int       `db:"idle_duration_seconds"`
	IntervalSeconds     int       `db:"interval_seconds"`
	ActiveApplication   string    `db:"active_application"`
	SessionID           uuid.UUID `db:"session_id"`
	ProductivityScore   int       `db:"productivity_score"`
	CreatedAt           time.Time `db:"created_at"`
}

// ActivitySummary aggregates samples by summing, so duplicate transmissions
// inflate totals rather than break them.
type ActivitySummary struct {
	TotalLogs           int      `json:"totalLogs"`
	TotalKeystrokes     int      `json:"totalKeystrokes"`
	TotalMouseEvents    int      `json:"totalMouseEvents"`
	TotalIdleSeconds    int      `json:"totalIdleSeconds"`
	AverageProductivity float64  `json:"averageProductivity"`
	AverageMouseScore   float64  `json:"averageMouseScore"`
	Applications        []string `json:"applications"`
}
