// Package activity accepts agent activity batches. A batch is persisted only
// while the attendance authority reports the user's workday as open.
package activity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"workpulse/internal/apierr"
	"workpulse/internal/clock"
	"workpulse/internal/db"
	"workpulse/internal/db/models"

	"github.com/google/uuid"
)

// Batch is one agent transmission.
type Batch struct {
	AttendanceID     string    `json:"attendanceId"`
	Timestamp        time.Time `json:"timestamp"`
	MouseEvents      int       `json:"mouseEvents"`
	KeyboardEvents   int       `json:"keyboardEvents"`
	IdleSeconds      int       `json:"idleSeconds"`
	ActiveApp        string    `json:"activeApp"`
	IntervalDuration int       `json:"intervalDuration"`
}

// Gate reports the user's open attendance for today, or apierr.DayNotActive.
type Gate interface {
	OpenToday(ctx context.Context, userID uuid.UUID) (*models.Attendance, error)
}

type Ingestor struct {
	store           db.Store
	gate            Gate
	defaultInterval int
	clock           clock.Clock
	logger          *slog.Logger
}

func NewIngestor(store db.Store, gate Gate, defaultInterval int, logger *slog.Logger) *Ingestor {
	if defaultInterval <= 0 {
		defaultInterval = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, gate: gate, defaultInterval: defaultInterval, clock: clock.Real(), logger: logger}
}

func (i *Ingestor) WithClock(c clock.Clock) *Ingestor {
	i.clock = c
	return i
}

// Ingest validates and stores one batch. Preconditions are checked in order:
// the attendance id must be present, then the user's day must be open and
// be the one the batch names.
// Retried batches are stored again; aggregation is sum-based.
func (i *Ingestor) Ingest(ctx context.Context, userID uuid.UUID, b Batch) (*models.ActivitySample, error) {
	if strings.TrimSpace(b.AttendanceID) == "" {
		return nil, apierr.Validation("attendanceId is required")
	}
	sessionID, err := uuid.Parse(b.AttendanceID)
	if err != nil {
		return nil, apierr.Validation("attendanceId is not a valid id")
	}
	if b.MouseEvents < 0 || b.KeyboardEvents < 0 || b.IdleSeconds < 0 || b.IntervalDuration < 0 {
		return nil, apierr.Validation("activity counters must not be negative")
	}

	open, err := i.gate.OpenToday(ctx, userID)
	if err != nil {
		if apierr.HasCode(err, apierr.CodeDayNotActive) {
			i.logger.Info("rejected activity outside workday", "user_id", userID, "attendance_id", sessionID)
		}
		return nil, err
	}
	if open.ID != sessionID {
		// The batch belongs to a day that has since been closed.
		i.logger.Info("rejected activity for a closed attendance",
			"user_id", userID, "batch_attendance_id", sessionID, "open_attendance_id", open.ID)
		return nil, apierr.DayNotActive
	}

	interval := b.IntervalDuration
	if interval == 0 {
		interval = i.defaultInterval
	}
	now := i.clock.Now()
	ts := b.Timestamp
	if ts.IsZero() {
		ts = now
	}

	mouseScore := MouseActivityScore(b.MouseEvents, interval)
	sample := &models.ActivitySample{
		ID:                  uuid.New(),
		EmployeeID:          userID,
		Timestamp:           ts,
		KeystrokeCount:      b.KeyboardEvents,
		MouseEvents:         b.MouseEvents,
		MouseActivityScore:  mouseScore,
		IdleDurationSeconds: b.IdleSeconds,
		IntervalSeconds:     interval,
		ActiveApplication:   b.ActiveApp,
		SessionID:           sessionID,
		ProductivityScore:   ProductivityScore(b.KeyboardEvents, mouseScore, b.IdleSeconds, interval),
		CreatedAt:           now,
	}
	if err := i.store.CreateActivitySample(ctx, sample); err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "failed to store activity", err)
	}
	i.logger.Debug("activity stored", "user_id", userID, "sample_id", sample.ID,
		"mouse_score", sample.MouseActivityScore, "productivity", sample.ProductivityScore)
	return sample, nil
}

// Summary aggregates a user's samples over [from, to).
func (i *Ingestor) Summary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*models.ActivitySummary, error) {
	if !from.Before(to) {
		return nil, apierr.Validation("from must be before to")
	}
	summary, err := i.store.ActivitySummary(ctx, userID, from, to)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "failed to summarize activity", err)
	}
	return summary, nil
}
