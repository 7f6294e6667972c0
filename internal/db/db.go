package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workpulse/internal/config"
	"workpulse/internal/db/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// DB is the Postgres store.
type DB struct {
	*pgxpool.Pool
}

var _ Store = (*DB)(nil)

func New(ctx context.Context, config config.Database) (*DB, error) {
	// Create a configuration object
	cfg, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	return &DB{pool}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	schema, err := PostgresSchema()
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.Exec(ctx, query,
		user.ID.String(),
		user.Email,
		user.Name,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
	)
	if isUniqueViolation(err, "") {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("error creating user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, `WHERE email = $1`, email)
}

func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return db.getUser(ctx, `WHERE id = $1`, id.String())
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `
		SELECT id, email, name, role, password_hash, created_at
		FROM users ` + where

	user := &models.User{}
	err := db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return user, nil
}

// StartAttendance closes stale open records and opens rec in one transaction
func (db *DB) StartAttendance(ctx context.Context, rec *models.Attendance, loc *time.Location) (int, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, work_date::text
		FROM attendance_records
		WHERE user_id = $1 AND end_time IS NULL AND work_date < $2
		FOR UPDATE`, rec.UserID.String(), rec.WorkDate)
	if err != nil {
		return 0, fmt.Errorf("error finding stale attendance: %w", err)
	}
	type stale struct {
		id       uuid.UUID
		workDate string
	}
	var stales []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.workDate); err != nil {
			rows.Close()
			return 0, fmt.Errorf("error scanning stale attendance: %w", err)
		}
		stales = append(stales, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating stale attendance: %w", err)
	}

	for _, s := range stales {
		end, err := models.EndOfWorkDate(s.workDate, loc)
		if err != nil {
			return 0, fmt.Errorf("error parsing work date %q: %w", s.workDate, err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE attendance_records
			SET end_time = $1, auto_closed = TRUE
			WHERE id = $2 AND end_time IS NULL`, end, s.id.String())
		if err != nil {
			return 0, fmt.Errorf("error closing stale attendance: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attendance_records (
			id, user_id, work_date, start_time, work_location_type,
			start_latitude, start_longitude, start_address, start_accuracy, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID.String(),
		rec.UserID.String(),
		rec.WorkDate,
		rec.StartTime,
		rec.WorkLocationType,
		rec.StartLocation.Latitude,
		rec.StartLocation.Longitude,
		rec.StartLocation.Address,
		rec.StartLocation.Accuracy,
		rec.CreatedAt,
	)
	if isUniqueViolation(err, "attendance_one_open_per_user") {
		return 0, ErrOpenAttendanceExists
	}
	if err != nil {
		return 0, fmt.Errorf("error creating attendance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, "attendance_one_open_per_user") {
			return 0, ErrOpenAttendanceExists
		}
		return 0, fmt.Errorf("error committing attendance: %w", err)
	}
	return len(stales), nil
}

const attendanceColumns = `
	id, user_id, work_date::text, start_time, end_time, work_location_type,
	start_latitude, start_longitude, start_address, start_accuracy,
	end_latitude, end_longitude, end_address, end_accuracy,
	auto_closed, created_at`

func scanAttendance(row pgx.Row) (*models.Attendance, error) {
	a := &models.Attendance{}
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.WorkDate,
		&a.StartTime,
		&a.EndTime,
		&a.WorkLocationType,
		&a.StartLocation.Latitude,
		&a.StartLocation.Longitude,
		&a.StartLocation.Address,
		&a.StartLocation.Accuracy,
		&a.EndLocation.Latitude,
		&a.EndLocation.Longitude,
		&a.EndLocation.Address,
		&a.EndLocation.Accuracy,
		&a.AutoClosed,
		&a.CreatedAt,
	)
	return a, err
}

// GetOpenAttendance gets the open record for a user on a work date if one exists
func (db *DB) GetOpenAttendance(ctx context.Context, userID uuid.UUID, workDate string) (*models.Attendance, error) {
	query := `SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE user_id = $1 AND work_date = $2 AND end_time IS NULL
		LIMIT 1`

	a, err := scanAttendance(db.QueryRow(ctx, query, userID.String(), workDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting open attendance: %w", err)
	}
	return a, nil
}

// CloseAttendance updates the end_time of an open record
func (db *DB) CloseAttendance(ctx context.Context, id uuid.UUID, end time.Time, where models.Location) error {
	query := `
		UPDATE attendance_records
		SET end_time = $1, end_latitude = $2, end_longitude = $3, end_address = $4, end_accuracy = $5
		WHERE id = $6 AND end_time IS NULL`

	tag, err := db.Exec(ctx, query, end, where.Latitude, where.Longitude, where.Address, where.Accuracy, id.String())
	if err != nil {
		return fmt.Errorf("error closing attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) ListAttendance(ctx context.Context, userID uuid.UUID, workDate string) ([]*models.Attendance, error) {
	query := `SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE user_id = $1 AND work_date = $2
		ORDER BY start_time DESC`

	rows, err := db.Query(ctx, query, userID.String(), workDate)
	if err != nil {
		return nil, fmt.Errorf("error listing attendance: %w", err)
	}
	defer rows.Close()

	var records []*models.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning attendance: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// CreateActivitySample appends one sample
func (db *DB) CreateActivitySample(ctx context.Context, s *models.ActivitySample) error {
	query := `
		INSERT INTO activity_samples (
			id, employee_id, ts, keystroke_count, mouse_events, mouse_activity_score,
			idle_duration_seconds, interval_seconds, active_application, session_id,
			productivity_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := db.Exec(ctx, query,
		s.ID.String(),
		s.EmployeeID.String(),
		s.Timestamp,
		s.KeystrokeCount,
		s.MouseEvents,
		s.MouseActivityScore,
		s.IdleDurationSeconds,
		s.IntervalSeconds,
		s.ActiveApplication,
		s.SessionID.String(),
		s.ProductivityScore,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating activity sample: %w", err)
	}
	return nil
}

// ActivitySummary sums a user's samples within a time range
func (db *DB) ActivitySummary(ctx context.Context, employeeID uuid.UUID, from, to time.Time) (*models.ActivitySummary, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(keystroke_count), 0),
			COALESCE(SUM(mouse_events), 0),
			COALESCE(SUM(idle_duration_seconds), 0),
			COALESCE(AVG(productivity_score), 0)::float8,
			COALESCE(AVG(mouse_activity_score), 0)::float8,
			COALESCE(array_agg(DISTINCT active_application) FILTER (WHERE active_application <> ''), '{}')
		FROM activity_samples
		WHERE employee_id = $1
		AND ts >= $2
		AND ts < $3`

	var (
		summary models.ActivitySummary
		apps    pq.StringArray
	)
	err := db.QueryRow(ctx, query, employeeID.String(), from, to).Scan(
		&summary.TotalLogs,
		&summary.TotalKeystrokes,
		&summary.TotalMouseEvents,
		&summary.TotalIdleSeconds,
		&summary.AverageProductivity,
		&summary.AverageMouseScore,
		&apps,
	)
	if err != nil {
		return nil, fmt.Errorf("error summarizing activity: %w", err)
	}
	summary.Applications = []string(apps)
	return &summary, nil
}
