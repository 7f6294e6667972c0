package attendance

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"workpulse/internal/apierr"
	"workpulse/internal/clock"
	"workpulse/internal/db"
	"workpulse/internal/db/models"
	"workpulse/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newAuthority(t *testing.T, store db.Store) (*Authority, *clock.FakeClock, *models.User) {
	t.Helper()
	fake := clock.Fake(nineAM)
	user := testutil.NewTestUser(t, store, "ana@example.com", models.RoleEmployee)
	return NewAuthority(store, nil, time.UTC, nil).WithClock(fake), fake, user
}

func countOpen(t *testing.T, store db.Store, userID uuid.UUID, workDate string) int {
	t.Helper()
	records, err := store.ListAttendance(context.Background(), userID, workDate)
	require.NoError(t, err)
	open := 0
	for _, r := range records {
		if r.Open() {
			open++
		}
	}
	return open
}

func TestStartDay_ThenStatus(t *testing.T) {
	store := testutil.NewTestStore(t)
	auth, _, user := newAuthority(t, store)
	ctx := context.Background()

	rec, err := auth.StartDay(ctx, user.ID, StartRequest{WorkLocationType: models.LocationRemote})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", rec.WorkDate)

	status, err := auth.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, status.DayStarted)
	require.NotNil(t, status.AttendanceID)
	assert.Equal(t, rec.ID, *status.AttendanceID)
	assert.Equal(t, models.LocationRemote, *status.WorkLocation)
	assert.True(t, status.StartTime.Equal(nineAM))
}

func TestStartDay_DefaultsAndValidatesLocationType(t *testing.T) {
	store := testutil.NewTestStore(t)
	auth, _, user := newAuthority(t, store)

	_, err := auth.StartDay(context.Background(), user.ID, StartRequest{WorkLocationType: "moon"})
	assert.ErrorIs(t, err, apierr.ValidationError)

	rec, err := auth.StartDay(context.Background(), user.ID, StartRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.LocationOffice, rec.WorkLocationType)
}

func TestStartDay_AlreadyStarted(t *testing.T) {
	store := testutil.NewTestStore(t)
	auth, _, user := newAuthority(t, store)
	ctx := context.Background()

	_, err := auth.StartDay(ctx, user.ID, StartRequest{})
	require.NoError(t, err)
	_, err = auth.StartDay(ctx, user.ID, StartRequest{})
	assert.ErrorIs(t, err, apierr.AlreadyStarted)
	assert.Equal(t, 1, countOpen(t, store, user.ID, "2026-03-02"))
}

func TestEndDay(t *testing.T) {
	store := testutil.NewTestStore(t)
	auth, fake, user := newAuthority(t, store)
	ctx := context.Background()

	_, err := auth.EndDay(ctx, user.ID, models.Location{})
	assert.ErrorIs(t, err, apierr.NoActiveDay)

	_, err = auth.StartDay(ctx, user.ID, StartRequest{})
	require.NoError(t, err)
	fake.Advance(time.Hour)

	rec, err := auth.EndDay(ctx, user.ID, models.Location{Address: "HQ"})
	require.NoError(t, err)
	require.NotNil(t, rec.EndTime)
	assert.True(t, rec.EndTime.Equal(nineAM.Add(time.Hour)))

	status, err := auth.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, status.DayStarted)
	assert.Nil(t, status.AttendanceID)

	_, err = auth.EndDay(ctx, user.ID, models.Location{})
	assert.ErrorIs(t, err, apierr.NoActiveDay)
}

func TestStatus_IsIdempotent(t *testing.T) {
	store := testutil.NewTestStore(t)
	auth, _, user := newAuthority(t, store)
	ctx := context.Background()

	_, err := auth.StartDay(ctx, user.ID, StartRequest{})
	require.NoError(t, err)
	before, err := store.ListAttendance(ctx, user.ID, "2026-03-02")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		status, err := auth.Status(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, status.DayStarted)
	}

	after, err := store.ListAttendance(ctx, user.ID, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStatus_IgnoresStaleOpenRecord(t *testing.T) {
	store := testutil.NewTestStore(t)
	auth, fake, user := newAuthority(t, store)
	ctx := context.Background()

	_, err := auth.StartDay(ctx, user.ID, StartRequest{})
	require.NoError(t, err)

	// The agent crashed and nobody ended the day.
	fake.Set(nineAM.AddDate(0, 0, 1))

	status, err := auth.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, status.DayStarted)

	_, err = auth.EndDay(ctx, user.ID, models.Location{})
	assert.ErrorIs(t, err, apierr.NoActiveDay)

	rec, err := auth.StartDay(ctx, user.ID, StartRequest{})
	require.NoError(t, err, "stale record must not block a new day")
	assert.Equal(t, "2026-03-03", rec.WorkDate)

	stale, err := store.ListAttendance(ctx, user.ID, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.True(t, stale[0].AutoClosed)
}

func TestStartEnd_RandomInterleavings_NeverTwoOpen(t *testing.T) {
	store := testutil.NewFileTestStore(t)
	auth, _, user := newAuthority(t, store)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		workers := 2 + rng.Intn(4)
		ops := make([]bool, workers)
		for i := range ops {
			ops[i] = rng.Intn(2) == 0
		}

		var wg sync.WaitGroup
		for _, start := range ops {
			wg.Add(1)
			go func(start bool) {
				defer wg.Done()
				var err error
				if start {
					_, err = auth.StartDay(ctx, user.ID, StartRequest{})
					if err != nil && !apierr.HasCode(err, apierr.CodeAlreadyStarted) {
						t.Errorf("start-day: %v", err)
					}
					return
				}
				_, err = auth.EndDay(ctx, user.ID, models.Location{})
				if err != nil && !apierr.HasCode(err, apierr.CodeNoActiveDay) {
					t.Errorf("end-day: %v", err)
				}
			}(start)
		}
		wg.Wait()

		assert.LessOrEqual(t, countOpen(t, store, user.ID, "2026-03-02"), 1, "round %d", round)
	}
}

func TestConcurrentStartDay_ExactlyOneWins(t *testing.T) {
	store := testutil.NewFileTestStore(t)
	auth, _, user := newAuthority(t, store)
	ctx := context.Background()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		already int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auth.StartDay(ctx, user.ID, StartRequest{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apierr.HasCode(err, apierr.CodeAlreadyStarted):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, already)
}
