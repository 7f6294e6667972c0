package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"workpulse/internal/db"
	"workpulse/internal/db/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// NewTestStore creates an in-memory SQLite store with all migrations applied.
// The store is closed when the test completes.
func NewTestStore(t *testing.T) *db.SQLiteDB {
	t.Helper()
	store, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// NewFileTestStore creates a file-backed SQLite store in a temp directory.
// Unlike :memory:, it shares state across pooled connections, which tests
// with real concurrent access need.
func NewFileTestStore(t *testing.T) *db.SQLiteDB {
	t.Helper()
	store, err := db.OpenSQLite(filepath.Join(t.TempDir(), "workpulse.db"))
	if err != nil {
		t.Fatalf("failed to create file test store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// TestPassword is the plaintext password of users made by NewTestUser.
const TestPassword = "Correct-Horse-9"

// NewTestUser inserts a user with the given role and TestPassword.
func NewTestUser(t *testing.T, store db.Store, email, role string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         email,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return user
}

// NewTestAttendance builds an open record for userID starting at start.
func NewTestAttendance(userID uuid.UUID, start time.Time, loc *time.Location) *models.Attendance {
	return &models.Attendance{
		ID:               uuid.New(),
		UserID:           userID,
		WorkDate:         models.WorkDate(start, loc),
		StartTime:        start,
		WorkLocationType: models.LocationOffice,
		CreatedAt:        start,
	}
}
