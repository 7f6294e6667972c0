package apiclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"workpulse/internal/activity"
	"workpulse/internal/apiclient"
	"workpulse/internal/apierr"
	"workpulse/internal/attendance"
	"workpulse/internal/auth"
	"workpulse/internal/db/models"
	"workpulse/internal/server"
	"workpulse/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *models.User) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := testutil.NewTestStore(t)
	authority := attendance.NewAuthority(store, nil, time.UTC, nil)
	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Store:      store,
		Tokens:     auth.NewTokens("test-secret", time.Hour),
		Attendance: authority,
		Activity:   activity.NewIngestor(store, authority, 30, nil),
		LoginRate:  10,
		LoginBurst: 10,
	}))
	t.Cleanup(srv.Close)
	return srv, testutil.NewTestUser(t, store, "ana@example.com", models.RoleEmployee)
}

func TestClient_AgainstServer(t *testing.T) {
	srv, user := newServer(t)
	ctx := context.Background()
	c := apiclient.New(srv.URL, time.Second)

	_, err := c.AttendanceStatus(ctx)
	assert.True(t, apierr.HasCode(err, apierr.CodeUnauthorized), "got %v", err)

	_, err = c.Login(ctx, "ana@example.com", "wrong")
	assert.True(t, apierr.HasCode(err, apierr.CodeInvalidCredentials), "got %v", err)

	login, err := c.Login(ctx, "ana@example.com", testutil.TestPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), login.User.ID)
	c.SetToken(login.Token)

	claims, err := apiclient.DecodeClaims(login.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)

	status, err := c.AttendanceStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.DayStarted)
	assert.Empty(t, status.AttendanceID)

	batch := apiclient.Batch{AttendanceID: user.ID.String(), MouseEvents: 4, IntervalDuration: 30}
	err = c.IngestActivity(ctx, batch)
	assert.ErrorIs(t, err, apierr.DayNotActive)

	started, err := c.StartDay(ctx, user.ID.String(), apiclient.DayRequest{Address: "HQ"})
	require.NoError(t, err)
	assert.NotEmpty(t, started.AttendanceID)
	assert.Equal(t, models.LocationOffice, started.WorkLocation)

	_, err = c.StartDay(ctx, user.ID.String(), apiclient.DayRequest{})
	assert.ErrorIs(t, err, apierr.AlreadyStarted)

	status, err = c.AttendanceStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.DayStarted)
	assert.Equal(t, started.AttendanceID, status.AttendanceID)

	batch.AttendanceID = started.AttendanceID
	batch.Timestamp = time.Now()
	require.NoError(t, c.IngestActivity(ctx, batch))

	summary, err := c.ActivitySummary(ctx, user.ID.String(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalLogs)
	assert.Equal(t, 4, summary.TotalMouseEvents)

	require.NoError(t, c.EndDay(ctx, user.ID.String(), apiclient.DayRequest{}))
	err = c.EndDay(ctx, user.ID.String(), apiclient.DayRequest{})
	assert.ErrorIs(t, err, apierr.NoActiveDay)

	require.NoError(t, c.Health(ctx))
}

func TestClient_SendsTokenHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("x-auth-token")
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"dayStarted":false,"attendanceId":null}`))
	}))
	defer srv.Close()

	c := apiclient.New(srv.URL, time.Second)
	c.SetToken("abc")
	_, err := c.AttendanceStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestClient_ErrorNormalization(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    apierr.Code
		message string
	}{
		{"server code wins", http.StatusForbidden, `{"success":false,"error":"day over","code":"DAY_NOT_ACTIVE"}`, apierr.CodeDayNotActive, "day over"},
		{"login style error", http.StatusUnauthorized, `{"error":"bad password"}`, apierr.CodeUnauthorized, "bad password"},
		{"non json body", http.StatusBadGateway, `<html>bad gateway</html>`, apierr.CodeInternal, "Bad Gateway"},
		{"gateway timeout", http.StatusGatewayTimeout, ``, apierr.CodeTimeout, "Gateway Timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := apiclient.New(srv.URL, time.Second).IngestActivity(context.Background(), apiclient.Batch{})
			var e *apierr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.want, e.Code)
			assert.Equal(t, tt.message, e.Message)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	_, err := apiclient.New(srv.URL, 20*time.Millisecond).AttendanceStatus(context.Background())
	assert.True(t, apierr.HasCode(err, apierr.CodeTimeout), "got %v", err)
	assert.True(t, apierr.Transient(err))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := apiclient.New(url, time.Second).AttendanceStatus(context.Background())
	assert.True(t, apierr.HasCode(err, apierr.CodeNetwork), "got %v", err)
	assert.True(t, apierr.Transient(err))
}

func TestDecodeClaims_Malformed(t *testing.T) {
	_, err := apiclient.DecodeClaims("not.a.jwt")
	assert.ErrorIs(t, err, apierr.InvalidToken)

	_, err = apiclient.DecodeClaims("")
	assert.ErrorIs(t, err, apierr.InvalidToken)
}
