// Package attendance is the single source of truth for whether a user's
// workday is active. "Today" is the current calendar day in the authority's
// configured location.
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"workpulse/internal/apierr"
	"workpulse/internal/clock"
	"workpulse/internal/db"
	"workpulse/internal/db/models"
	"workpulse/internal/notify"

	"github.com/google/uuid"
)

// StartRequest carries the start-day body.
type StartRequest struct {
	Location         models.Location
	WorkLocationType string
}

// Status is the derived workday state reported to agents. Fields other than
// DayStarted are nil when no day is open.
type Status struct {
	DayStarted   bool       `json:"dayStarted"`
	AttendanceID *uuid.UUID `json:"attendanceId"`
	StartTime    *time.Time `json:"startTime"`
	WorkLocation *string    `json:"workLocation"`
}

type Authority struct {
	store    db.Store
	notifier notify.Notifier
	loc      *time.Location
	clock    clock.Clock
	logger   *slog.Logger
}

func NewAuthority(store db.Store, notifier notify.Notifier, loc *time.Location, logger *slog.Logger) *Authority {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{store: store, notifier: notifier, loc: loc, clock: clock.Real(), logger: logger}
}

// WithClock replaces the time source.
func (a *Authority) WithClock(c clock.Clock) *Authority {
	a.clock = c
	return a
}

// Location is the zone that defines calendar days.
func (a *Authority) Location() *time.Location { return a.loc }

// Today returns the current work-date key.
func (a *Authority) Today() string {
	return models.WorkDate(a.clock.Now(), a.loc)
}

// StartDay opens a workday for userID. It fails with AlreadyStarted when the
// user already has an open record for today.
func (a *Authority) StartDay(ctx context.Context, userID uuid.UUID, req StartRequest) (*models.Attendance, error) {
	locType := req.WorkLocationType
	if locType == "" {
		locType = models.LocationOffice
	}
	if !models.ValidLocationType(locType) {
		return nil, apierr.Validation("unknown workLocationType %q", locType)
	}

	now := a.clock.Now()
	rec := &models.Attendance{
		ID:               uuid.New(),
		UserID:           userID,
		WorkDate:         models.WorkDate(now, a.loc),
		StartTime:        now,
		WorkLocationType: locType,
		StartLocation:    req.Location,
		CreatedAt:        now,
	}

	staleClosed, err := a.store.StartAttendance(ctx, rec, a.loc)
	if errors.Is(err, db.ErrOpenAttendanceExists) {
		return nil, apierr.AlreadyStarted
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "failed to start workday", err)
	}
	if staleClosed > 0 {
		a.logger.Warn("auto-closed stale attendance records", "user_id", userID, "count", staleClosed)
	}
	a.logger.Info("workday started", "user_id", userID, "attendance_id", rec.ID, "work_location", locType)

	a.notify(ctx, userID, func(user *models.User) { a.notifier.DayStarted(ctx, user, rec) })
	return rec, nil
}

// EndDay closes today's open record. It fails with NoActiveDay when there
// is none.
func (a *Authority) EndDay(ctx context.Context, userID uuid.UUID, where models.Location) (*models.Attendance, error) {
	rec, err := a.OpenToday(ctx, userID)
	if err != nil {
		if errors.Is(err, apierr.DayNotActive) {
			return nil, apierr.NoActiveDay
		}
		return nil, err
	}

	end := a.clock.Now()
	if end.Before(rec.StartTime) {
		end = rec.StartTime.Add(time.Second)
	}
	if err := a.store.CloseAttendance(ctx, rec.ID, end, where); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Closed concurrently between the read and the update.
			return nil, apierr.NoActiveDay
		}
		return nil, apierr.Wrap(apierr.CodeStorage, "failed to end workday", err)
	}
	rec.EndTime = &end
	rec.EndLocation = where
	a.logger.Info("workday ended", "user_id", userID, "attendance_id", rec.ID)

	a.notify(ctx, userID, func(user *models.User) { a.notifier.DayEnded(ctx, user, rec, end) })
	return rec, nil
}

// Status reports whether userID has an open record for today. It is a pure
// read and fails only on storage errors.
func (a *Authority) Status(ctx context.Context, userID uuid.UUID) (Status, error) {
	rec, err := a.OpenToday(ctx, userID)
	if errors.Is(err, apierr.DayNotActive) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	start := rec.StartTime
	where := rec.WorkLocationType
	id := rec.ID
	return Status{DayStarted: true, AttendanceID: &id, StartTime: &start, WorkLocation: &where}, nil
}

// OpenToday returns the user's open record for today, or DayNotActive.
// Records left open on earlier days are not considered.
func (a *Authority) OpenToday(ctx context.Context, userID uuid.UUID) (*models.Attendance, error) {
	rec, err := a.store.GetOpenAttendance(ctx, userID, a.Today())
	if errors.Is(err, db.ErrNotFound) {
		return nil, apierr.DayNotActive
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "failed to read attendance", err)
	}
	return rec, nil
}

// History lists the user's records for today, newest first.
func (a *Authority) History(ctx context.Context, userID uuid.UUID) ([]*models.Attendance, error) {
	records, err := a.store.ListAttendance(ctx, userID, a.Today())
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "failed to list attendance", err)
	}
	return records, nil
}

func (a *Authority) notify(ctx context.Context, userID uuid.UUID, fn func(*models.User)) {
	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		a.logger.Warn("skipping notification: user lookup failed", "user_id", userID, "error", err)
		return
	}
	fn(user)
}
