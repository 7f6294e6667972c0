package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"workpulse/internal/activity"
	"workpulse/internal/attendance"
	"workpulse/internal/auth"
	"workpulse/internal/clock"
	"workpulse/internal/db/models"
	"workpulse/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router     *gin.Engine
	user       *models.User
	other      *models.User
	token      string
	otherToken string
	adminToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.NewTestStore(t)
	fake := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	authority := attendance.NewAuthority(store, nil, time.UTC, nil).WithClock(fake)
	ingestor := activity.NewIngestor(store, authority, 30, nil).WithClock(fake)
	tokens := auth.NewTokens("test-secret", time.Hour)

	env := &testEnv{
		user:  testutil.NewTestUser(t, store, "ana@example.com", models.RoleEmployee),
		other: testutil.NewTestUser(t, store, "ben@example.com", models.RoleEmployee),
	}
	admin := testutil.NewTestUser(t, store, "root@example.com", models.RoleAdmin)

	var err error
	env.token, _, err = tokens.Issue(env.user)
	require.NoError(t, err)
	env.otherToken, _, err = tokens.Issue(env.other)
	require.NoError(t, err)
	env.adminToken, _, err = tokens.Issue(admin)
	require.NoError(t, err)

	env.router = NewRouter(Deps{
		Store:      store,
		Tokens:     tokens,
		Attendance: authority,
		Activity:   ingestor,
		LoginRate:  0.001,
		LoginBurst: 3,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.HeaderName, token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ANA@example.com", "password": testutil.TestPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, env.user.ID.String(), user["id"])
	assert.NotContains(t, user, "passwordHash")

	w, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "ana@example.com", "password": "wrong"}

	for i := 0; i < 3; i++ {
		w, _ := env.do(t, http.MethodPost, "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, body := env.do(t, http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", body["code"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/attendance/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	w, body = env.do(t, http.MethodGet, "/api/attendance/status", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestAttendanceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	start := "/api/attendance/start-day/" + env.user.ID.String()
	end := "/api/attendance/end-day/" + env.user.ID.String()

	w, body := env.do(t, http.MethodGet, "/api/attendance/status", env.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["dayStarted"])
	assert.Nil(t, body["attendanceId"])

	w, body = env.do(t, http.MethodPost, start, env.token, map[string]any{
		"latitude": 52.52, "longitude": 13.4, "address": "HQ", "workLocationType": "remote",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	attendanceID := body["attendanceId"]
	assert.NotEmpty(t, attendanceID)

	w, body = env.do(t, http.MethodPost, start, env.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "ALREADY_STARTED", body["code"])

	w, body = env.do(t, http.MethodGet, "/api/attendance/status", env.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["dayStarted"])
	assert.Equal(t, attendanceID, body["attendanceId"])
	assert.Equal(t, "remote", body["workLocation"])

	w, body = env.do(t, http.MethodPost, end, env.token, map[string]any{"address": "Home"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, body = env.do(t, http.MethodPost, end, env.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NO_ACTIVE_DAY", body["code"])

	w, body = env.do(t, http.MethodGet, "/api/attendance/today/"+env.user.ID.String(), env.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["records"], 1)
}

func TestStartDay_SelfOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/attendance/start-day/" + env.user.ID.String()

	w, body := env.do(t, http.MethodPost, path, env.otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	w, _ = env.do(t, http.MethodPost, path, env.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/attendance/start-day/nope", env.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestIngest_GatedByAttendance(t *testing.T) {
	env := newTestEnv(t)
	const ingest = "/api/agent/activity/ingest"
	batch := map[string]any{
		"attendanceId":     "6f1c1c1e-5d1b-4c38-9a3e-0a4c2b7f9a10",
		"mouseEvents":      20,
		"keyboardEvents":   10,
		"idleSeconds":      5,
		"activeApp":        "editor",
		"intervalDuration": 30,
	}

	w, body := env.do(t, http.MethodPost, ingest, env.token, batch)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "DAY_NOT_ACTIVE", body["code"])

	w, body = env.do(t, http.MethodPost, ingest, env.token, map[string]any{"mouseEvents": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"], "missing id is checked before the day")

	w, body = env.do(t, http.MethodPost, "/api/attendance/start-day/"+env.user.ID.String(), env.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	batch["attendanceId"] = body["attendanceId"]

	w, body = env.do(t, http.MethodPost, ingest, env.token, batch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])

	w, _ = env.do(t, http.MethodPost, "/api/attendance/end-day/"+env.user.ID.String(), env.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodPost, ingest, env.token, batch)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "DAY_NOT_ACTIVE", body["code"])

	w, body = env.do(t, http.MethodGet, "/api/agent/activity/summary/"+env.user.ID.String(), env.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["totalLogs"])
	assert.EqualValues(t, 10, summary["totalKeystrokes"])
	assert.Equal(t, []any{"editor"}, summary["applications"])
}

func TestSummary_Authorization(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/agent/activity/summary/" + env.user.ID.String()

	w, body := env.do(t, http.MethodGet, path, env.otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	w, _ = env.do(t, http.MethodGet, path, env.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodGet, path+"?from=yesterday", env.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}
