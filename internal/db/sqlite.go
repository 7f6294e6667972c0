package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"workpulse/internal/db/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed-width so stored timestamps compare lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL CHECK (role IN ('ADMIN', 'EMPLOYEE')),
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		work_date          TEXT NOT NULL,
		start_time         TEXT NOT NULL,
		end_time           TEXT,
		work_location_type TEXT NOT NULL DEFAULT 'office',
		start_latitude     REAL,
		start_longitude    REAL,
		start_address      TEXT NOT NULL DEFAULT '',
		start_accuracy     REAL,
		end_latitude       REAL,
		end_longitude      REAL,
		end_address        TEXT NOT NULL DEFAULT '',
		end_accuracy       REAL,
		auto_closed        INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_one_open_per_user
		ON attendance_records (user_id) WHERE end_time IS NULL`,
	`CREATE INDEX IF NOT EXISTS attendance_user_date
		ON attendance_records (user_id, work_date)`,
	`CREATE TABLE IF NOT EXISTS activity_samples (
		id                    TEXT PRIMARY KEY,
		employee_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		ts                    TEXT NOT NULL,
		keystroke_count       INTEGER NOT NULL DEFAULT 0,
		mouse_events          INTEGER NOT NULL DEFAULT 0,
		mouse_activity_score  INTEGER NOT NULL DEFAULT 0,
		idle_duration_seconds INTEGER NOT NULL DEFAULT 0,
		interval_seconds      INTEGER NOT NULL DEFAULT 30,
		active_application    TEXT NOT NULL DEFAULT '',
		session_id            TEXT NOT NULL,
		productivity_score    INTEGER NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activity_employee_ts
		ON activity_samples (employee_id, ts)`,
}

// SQLiteDB is the SQLite store used for development and tests.
type SQLiteDB struct {
	db *sql.DB
}

var _ Store = (*SQLiteDB)(nil)

// OpenSQLite opens (creating if needed) a SQLite database at path and runs
// migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteDB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for i, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteDB) Close() { s.db.Close() }

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(sqliteTimeLayout, s) }

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func (s *SQLiteDB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Email, user.Name, user.Role, user.PasswordHash, formatTime(user.CreatedAt))
	if isSQLiteUnique(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id.String())
}

func (s *SQLiteDB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var (
		u         models.User
		id        string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, created_at
		FROM users `+where, arg).Scan(&id, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

func (s *SQLiteDB) StartAttendance(ctx context.Context, rec *models.Attendance, loc *time.Location) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, work_date FROM attendance_records
		WHERE user_id = ? AND end_time IS NULL AND work_date < ?`,
		rec.UserID.String(), rec.WorkDate)
	if err != nil {
		return 0, fmt.Errorf("finding stale attendance: %w", err)
	}
	stale := map[string]string{}
	for rows.Next() {
		var id, workDate string
		if err := rows.Scan(&id, &workDate); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning stale attendance: %w", err)
		}
		stale[id] = workDate
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating stale attendance: %w", err)
	}

	for id, workDate := range stale {
		end, err := models.EndOfWorkDate(workDate, loc)
		if err != nil {
			return 0, fmt.Errorf("parsing work date %q: %w", workDate, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_records SET end_time = ?, auto_closed = 1
			WHERE id = ? AND end_time IS NULL`, formatTime(end), id); err != nil {
			return 0, fmt.Errorf("closing stale attendance: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_records (
			id, user_id, work_date, start_time, work_location_type,
			start_latitude, start_longitude, start_address, start_accuracy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.UserID.String(),
		rec.WorkDate,
		formatTime(rec.StartTime),
		rec.WorkLocationType,
		nullFloat(rec.StartLocation.Latitude),
		nullFloat(rec.StartLocation.Longitude),
		rec.StartLocation.Address,
		nullFloat(rec.StartLocation.Accuracy),
		formatTime(rec.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return 0, ErrOpenAttendanceExists
	}
	if err != nil {
		return 0, fmt.Errorf("inserting attendance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing attendance: %w", err)
	}
	committed = true
	return len(stale), nil
}

const sqliteAttendanceColumns = `
	id, user_id, work_date, start_time, end_time, work_location_type,
	start_latitude, start_longitude, start_address, start_accuracy,
	end_latitude, end_longitude, end_address, end_accuracy,
	auto_closed, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAttendance(row rowScanner) (*models.Attendance, error) {
	var (
		a                            models.Attendance
		id, userID                   string
		startTime, createdAt         string
		endTime                      sql.NullString
		sLat, sLng, sAcc, eLat, eLng sql.NullFloat64
		eAcc                         sql.NullFloat64
		autoClosed                   int
	)
	err := row.Scan(
		&id, &userID, &a.WorkDate, &startTime, &endTime, &a.WorkLocationType,
		&sLat, &sLng, &a.StartLocation.Address, &sAcc,
		&eLat, &eLng, &a.EndLocation.Address, &eAcc,
		&autoClosed, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing attendance id: %w", err)
	}
	if a.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	if a.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if endTime.Valid {
		end, err := parseTime(endTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing end_time: %w", err)
		}
		a.EndTime = &end
	}
	a.StartLocation.Latitude = floatPtr(sLat)
	a.StartLocation.Longitude = floatPtr(sLng)
	a.StartLocation.Accuracy = floatPtr(sAcc)
	a.EndLocation.Latitude = floatPtr(eLat)
	a.EndLocation.Longitude = floatPtr(eLng)
	a.EndLocation.Accuracy = floatPtr(eAcc)
	a.AutoClosed = autoClosed != 0
	return &a, nil
}

func (s *SQLiteDB) GetOpenAttendance(ctx context.Context, userID uuid.UUID, workDate string) (*models.Attendance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAttendanceColumns+`
		FROM attendance_records
		WHERE user_id = ? AND work_date = ? AND end_time IS NULL
		LIMIT 1`, userID.String(), workDate)
	a, err := scanSQLiteAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting open attendance: %w", err)
	}
	return a, nil
}

func (s *SQLiteDB) CloseAttendance(ctx context.Context, id uuid.UUID, end time.Time, where models.Location) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET end_time = ?, end_latitude = ?, end_longitude = ?, end_address = ?, end_accuracy = ?
		WHERE id = ? AND end_time IS NULL`,
		formatTime(end), nullFloat(where.Latitude), nullFloat(where.Longitude), where.Address,
		nullFloat(where.Accuracy), id.String())
	if err != nil {
		return fmt.Errorf("closing attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing attendance: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) ListAttendance(ctx context.Context, userID uuid.UUID, workDate string) ([]*models.Attendance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteAttendanceColumns+`
		FROM attendance_records
		WHERE user_id = ? AND work_date = ?
		ORDER BY start_time DESC`, userID.String(), workDate)
	if err != nil {
		return nil, fmt.Errorf("listing attendance: %w", err)
	}
	defer rows.Close()

	var records []*models.Attendance
	for rows.Next() {
		a, err := scanSQLiteAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attendance: %w", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attendance: %w", err)
	}
	return records, nil
}

func (s *SQLiteDB) CreateActivitySample(ctx context.Context, a *models.ActivitySample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_samples (
			id, employee_id, ts, keystroke_count, mouse_events, mouse_activity_score,
			idle_duration_seconds, interval_seconds, active_application, session_id,
			productivity_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(),
		a.EmployeeID.String(),
		formatTime(a.Timestamp),
		a.KeystrokeCount,
		a.MouseEvents,
		a.MouseActivityScore,
		a.IdleDurationSeconds,
		a.IntervalSeconds,
		a.ActiveApplication,
		a.SessionID.String(),
		a.ProductivityScore,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting activity sample: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ActivitySummary(ctx context.Context, employeeID uuid.UUID, from, to time.Time) (*models.ActivitySummary, error) {
	var (
		summary models.ActivitySummary
		apps    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(keystroke_count), 0),
			COALESCE(SUM(mouse_events), 0),
			COALESCE(SUM(idle_duration_seconds), 0),
			COALESCE(AVG(productivity_score), 0.0),
			COALESCE(AVG(mouse_activity_score), 0.0),
			(SELECT group_concat(app, char(31)) FROM (
				SELECT DISTINCT active_application AS app FROM activity_samples
				WHERE employee_id = ?1 AND ts >= ?2 AND ts < ?3 AND active_application <> ''
				ORDER BY app))
		FROM activity_samples
		WHERE employee_id = ?1 AND ts >= ?2 AND ts < ?3`,
		employeeID.String(), formatTime(from), formatTime(to),
	).Scan(
		&summary.TotalLogs,
		&summary.TotalKeystrokes,
		&summary.TotalMouseEvents,
		&summary.TotalIdleSeconds,
		&summary.AverageProductivity,
		&summary.AverageMouseScore,
		&apps,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing activity: %w", err)
	}
	summary.Applications = []string{}
	if apps.Valid && apps.String != "" {
		summary.Applications = strings.Split(apps.String, "\x1f")
	}
	return &summary, nil
}
