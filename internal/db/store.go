package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"workpulse/internal/config"
	"workpulse/internal/db/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrOpenAttendanceExists is returned when an insert would give a user a
	// second open attendance record.
	ErrOpenAttendanceExists = errors.New("open attendance record already exists")
	// ErrDuplicateEmail is returned when a user with the same email exists.
	ErrDuplicateEmail = errors.New("email already registered")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresSchema returns the Postgres migration script.
func PostgresSchema() (string, error) {
	b, err := migrationFS.ReadFile("migrations/001_initial_schema.sql")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Store is the server's persistence boundary. DB (Postgres) is the
// production implementation; SQLiteDB serves development and tests.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// StartAttendance auto-closes the user's open records from days before
	// rec.WorkDate (end time = last second of their day in loc) and inserts
	// rec, in one transaction. It returns ErrOpenAttendanceExists when the
	// user still has an open record.
	StartAttendance(ctx context.Context, rec *models.Attendance, loc *time.Location) (staleClosed int, err error)
	// GetOpenAttendance returns the user's open record for workDate.
	GetOpenAttendance(ctx context.Context, userID uuid.UUID, workDate string) (*models.Attendance, error)
	// CloseAttendance sets end_time on an open record. ErrNotFound if the
	// record is missing or already closed.
	CloseAttendance(ctx context.Context, id uuid.UUID, end time.Time, where models.Location) error
	// ListAttendance returns the user's records for workDate, newest first.
	ListAttendance(ctx context.Context, userID uuid.UUID, workDate string) ([]*models.Attendance, error)

	CreateActivitySample(ctx context.Context, sample *models.ActivitySample) error
	// ActivitySummary aggregates samples with from <= ts < to.
	ActivitySummary(ctx context.Context, employeeID uuid.UUID, from, to time.Time) (*models.ActivitySummary, error)
}

// Open connects to the store named by cfg.Driver.
func Open(ctx context.Context, cfg config.Database) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		return New(ctx, cfg)
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
