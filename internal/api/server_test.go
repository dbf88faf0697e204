package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/config"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/store"
)

type testEnv struct {
	server *Server
	store  *store.Store
	hub    *notify.Hub
}

func setupTestServer(t *testing.T, tweak func(*config.Config)) *testEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	kv, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	st, err := store.Open(db, kv, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default(t.TempDir())
	cfg.Security.JWTSecret = "test-secret"
	if tweak != nil {
		tweak(cfg)
	}

	m := metrics.New()
	hub := notify.NewHub(nil, m)
	srv := New(cfg, Deps{
		Store:      st,
		Hub:        hub,
		Dispatcher: notify.NewDispatcher(nil, m, hub),
		Metrics:    m,
	}, nil)
	return &testEnv{server: srv, store: st, hub: hub}
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
	apiKey string
}

func (e *testEnv) do(t *testing.T, c call) (int, map[string]interface{}) {
	t.Helper()
	status, raw := e.doRaw(t, c)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return status, out
}

func (e *testEnv) doRaw(t *testing.T, c call) (int, []byte) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// signup registers and logs in a user, returning its id and token.
func (e *testEnv) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	status, user := e.do(t, call{method: "POST", path: "/api/register", body: map[string]string{
		"name": "Test User", "email": email, "password": "s3cret-pass",
	}})
	require.Equal(t, http.StatusCreated, status)

	status, tok := e.do(t, call{method: "POST", path: "/api/login", body: map[string]string{
		"email": email, "password": "s3cret-pass",
	}})
	require.Equal(t, http.StatusOK, status)
	return user["id"].(string), tok["access_token"].(string)
}

// pair registers a dispenser for the token's user.
func (e *testEnv) pair(t *testing.T, token, chip string) (string, string) {
	t.Helper()
	status, dev := e.do(t, call{method: "POST", path: "/api/devices", token: token, body: map[string]string{
		"name": "Kitchen", "chip_id": chip,
	}})
	require.Equal(t, http.StatusCreated, status)
	return dev["id"].(string), dev["api_key"].(string)
}

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestServer(t, nil)

	status, user := env.do(t, call{method: "POST", path: "/api/register", body: map[string]string{
		"name": "Rina", "email": "rina@example.com", "password": "longenough",
	}})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "patient", user["role"])
	assert.NotContains(t, user, "password_hash")

	status, body := env.do(t, call{method: "POST", path: "/api/register", body: map[string]string{
		"name": "Rina", "email": "RINA@example.com", "password": "longenough",
	}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "USER_002", body["code"])

	status, _ = env.do(t, call{method: "POST", path: "/api/register", body: map[string]string{
		"name": "Short", "email": "short@example.com", "password": "short",
	}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, call{method: "POST", path: "/api/login", body: map[string]string{
		"email": "rina@example.com", "password": "wrong-password",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "AUTH_003", body["code"])

	status, body = env.do(t, call{method: "POST", path: "/api/login", body: map[string]string{
		"email": "nobody@example.com", "password": "whatever1",
	}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, call{method: "POST", path: "/api/login", body: map[string]string{
		"username": "rina@example.com", "password": "longenough",
	}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bearer", body["token_type"])
	assert.NotEmpty(t, body["access_token"])
}

func TestUserAccessIsSelfOnly(t *testing.T) {
	env := setupTestServer(t, nil)
	aliceID, aliceToken := env.signup(t, "alice@example.com")
	bobID, _ := env.signup(t, "bob@example.com")

	status, _ := env.do(t, call{method: "GET", path: "/api/users/" + aliceID})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, call{method: "GET", path: "/api/users/" + aliceID, token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := env.do(t, call{method: "GET", path: "/api/users/" + aliceID, token: aliceToken})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice@example.com", body["email"])

	status, body = env.do(t, call{method: "GET", path: "/api/users/" + bobID + "/adherence-summary", token: aliceToken})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "AUTH_002", body["code"])

	status, body = env.do(t, call{method: "PUT", path: "/api/users/" + aliceID, token: aliceToken, body: map[string]string{"name": "Alice B."}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alice B.", body["name"])
}

func TestUpdateUserChatDestinations(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")
	path := "/api/users/" + userID

	status, body := env.do(t, call{method: "PUT", path: path, token: token, body: map[string]interface{}{
		"telegram_chat_id": -100123, "discord_channel_id": "112233445566778899",
	}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, -100123.0, body["telegram_chat_id"])
	assert.Equal(t, "112233445566778899", body["discord_channel_id"])

	user, err := env.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), user.TelegramChatID)

	status, body = env.do(t, call{method: "PUT", path: path, token: token, body: map[string]interface{}{
		"discord_channel_id": "general",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.ErrBadRequest.Code, body["code"])

	status, body = env.do(t, call{method: "PUT", path: path, token: token, body: map[string]interface{}{
		"telegram_chat_id": 0, "discord_channel_id": "",
	}})
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "telegram_chat_id")
	assert.NotContains(t, body, "discord_channel_id")
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")

	status, _ := env.do(t, call{method: "POST", path: "/api/logout", token: token})
	require.Equal(t, http.StatusNoContent, status)

	status, _ = env.do(t, call{method: "GET", path: "/api/users/" + userID, token: token})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDeviceFlow(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")
	deviceID, apiKey := env.pair(t, token, "esp32-001")

	status, body := env.do(t, call{method: "POST", path: "/api/devices", token: token, body: map[string]string{
		"name": "Dup", "chip_id": "esp32-001",
	}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DEV_003", body["code"])

	status, body = env.do(t, call{method: "POST", path: "/api/device/esp32-001/heartbeat", apiKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "DEV_002", body["code"])

	status, _ = env.do(t, call{method: "POST", path: "/api/device/unknown/heartbeat", apiKey: apiKey})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, call{method: "POST", path: "/api/device/esp32-001/heartbeat", apiKey: apiKey})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "online", body["status"])

	status, body = env.do(t, call{method: "POST", path: "/api/users/" + userID + "/schedules", token: token, body: map[string]interface{}{
		"device_id": deviceID, "pillname": "Metformin", "dose_time": "08:00",
	}})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "08:00:00", body["dose_time"])
	scheduleID := body["id"].(string)

	status, body = env.do(t, call{method: "POST", path: "/api/users/" + userID + "/schedules", token: token, body: map[string]interface{}{
		"device_id": deviceID, "pillname": "Metformin", "dose_time": "8 in the morning",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "SCHED_002", body["code"])

	status, raw := env.doRaw(t, call{method: "GET", path: "/api/device/esp32-001/schedules", apiKey: apiKey})
	require.Equal(t, http.StatusOK, status)
	var scheds []scheduleView
	require.NoError(t, json.Unmarshal(raw, &scheds))
	require.Len(t, scheds, 1)
	assert.Equal(t, "Metformin", scheds[0].PillName)

	status, body = env.do(t, call{method: "POST", path: "/api/device/esp32-001/medlogs", apiKey: apiKey, body: map[string]interface{}{
		"schedule_id": scheduleID, "status": "skipped",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "MEDLOG_002", body["code"])

	status, body = env.do(t, call{method: "POST", path: "/api/device/esp32-001/medlogs", apiKey: apiKey, body: map[string]interface{}{
		"schedule_id": scheduleID, "status": "taken",
	}})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Metformin", body["pillname"])
	assert.NotNil(t, body["taken_at"])

	status, raw = env.doRaw(t, call{method: "GET", path: "/api/devices", token: token})
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(raw), apiKey, "keys are only shown at pairing")
}

func TestAdherenceEndpoints(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")
	deviceID, apiKey := env.pair(t, token, "chip-1")

	for _, dose := range []string{"08:00", "20:00"} {
		status, _ := env.do(t, call{method: "POST", path: "/api/users/" + userID + "/schedules", token: token, body: map[string]interface{}{
			"device_id": deviceID, "pillname": "Lisinopril", "dose_time": dose,
		}})
		require.Equal(t, http.StatusCreated, status)
	}

	history := []struct {
		at     string
		status string
	}{
		{"2026-10-16T08:00:00Z", "taken"},
		{"2026-10-15T20:00:00Z", "taken"},
		{"2026-10-15T08:00:00Z", "missed"},
		{"2026-10-14T20:00:00Z", "taken"},
	}
	for _, h := range history {
		status, _ := env.do(t, call{method: "POST", path: "/api/device/chip-1/medlogs", apiKey: apiKey, body: map[string]interface{}{
			"pillname": "Lisinopril", "status": h.status, "scheduled_time": h.at,
		}})
		require.Equal(t, http.StatusCreated, status)
	}

	at := "?at=2026-10-16T09:00:00Z"
	status, body := env.do(t, call{method: "GET", path: "/api/users/" + userID + "/adherence-summary" + at, token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, userID, body["user_id"])
	assert.Equal(t, 2.0, body["adherence_streak"])
	assert.InDelta(t, 0.75, body["weekly_adherence"], 1e-9)
	assert.Equal(t, 75.0, body["weekly_adherence_pct"])
	next := body["next_dose"].(map[string]interface{})
	assert.Equal(t, "2026-10-16T20:00:00Z", next["at"])

	status, body = env.do(t, call{method: "GET", path: "/api/users/" + userID + "/streak" + at, token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.0, body["adherence_streak"])
	assert.Equal(t, 30.0, body["window_days"])

	status, body = env.do(t, call{method: "GET", path: "/api/users/" + userID + "/streak" + at + "&window_days=200000", token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.0, body["adherence_streak"])
	assert.Equal(t, float64(adherence.MaxWindowDays), body["window_days"])

	status, body = env.do(t, call{method: "GET", path: "/api/users/" + userID + "/next-dose?at=2026-10-16T21:00:00Z", token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2026-10-17T08:00:00Z", body["next_dose"].(map[string]interface{})["at"])

	status, body = env.do(t, call{method: "GET", path: "/api/users/" + userID + "/weekly-adherence" + at, token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 75.0, body["weekly_adherence_pct"])

	status, _ = env.do(t, call{method: "GET", path: "/api/users/" + userID + "/adherence-summary?at=yesterday", token: token})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdherenceSummary_NoData(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")

	status, body := env.do(t, call{method: "GET", path: "/api/users/" + userID + "/adherence-summary", token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.0, body["adherence_streak"])
	assert.Nil(t, body["next_dose"])
	assert.Equal(t, 0.0, body["weekly_adherence"])
}

func TestAdherenceSummary_UnknownUser(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")
	require.NoError(t, env.store.DeleteUser(context.Background(), userID))

	status, body := env.do(t, call{method: "GET", path: "/api/users/" + userID + "/adherence-summary", token: token})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "USER_001", body["code"])
}

func TestDeviceNotificationReachesLiveFeed(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")
	_, apiKey := env.pair(t, token, "chip-1")

	sub := env.hub.Subscribe(userID)
	defer sub.Close()

	status, body := env.do(t, call{method: "POST", path: "/api/device/chip-1/notifications", apiKey: apiKey, body: map[string]string{
		"message": "Tray almost empty",
	}})
	require.Equal(t, http.StatusCreated, status)
	notificationID := body["id"].(string)

	select {
	case ev := <-sub.C:
		assert.Equal(t, notify.KindDeviceMessage, ev.Kind)
		assert.Contains(t, ev.Message, "Tray almost empty")
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered to subscriber")
	}

	status, raw := env.doRaw(t, call{method: "GET", path: "/api/users/" + userID + "/notifications", token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "Tray almost empty")

	status, _ = env.do(t, call{method: "DELETE", path: "/api/notifications/" + notificationID, token: token})
	assert.Equal(t, http.StatusNoContent, status)
}

func TestFreeTextValidation(t *testing.T) {
	env := setupTestServer(t, nil)
	userID, token := env.signup(t, "a@example.com")
	deviceID, apiKey := env.pair(t, token, "chip-1")

	status, body := env.do(t, call{method: "POST", path: "/api/device/chip-1/notifications", apiKey: apiKey, body: map[string]string{
		"message": "\x1b[2Jrefill",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "GEN_002", body["code"])

	status, _ = env.do(t, call{method: "POST", path: "/api/device/chip-1/notifications", apiKey: apiKey, body: map[string]string{
		"message": strings.Repeat("refill ", 200),
	}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, call{method: "POST", path: "/api/devices", token: token, body: map[string]string{
		"name": "Bedroom\nshelf", "chip_id": "chip-2",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "GEN_002", body["code"])

	status, _ = env.do(t, call{method: "POST", path: "/api/users/" + userID + "/schedules", token: token, body: map[string]string{
		"device_id": deviceID, "pillname": strings.Repeat("Amlodipine", 11), "dose_time": "08:00",
	}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeviceRateLimit(t *testing.T) {
	env := setupTestServer(t, func(cfg *config.Config) {
		cfg.Security.DeviceRPS = 0.001
		cfg.Security.DeviceBurst = 2
	})
	_, token := env.signup(t, "a@example.com")
	_, apiKey := env.pair(t, token, "chip-1")

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, call{method: "POST", path: "/api/device/chip-1/heartbeat", apiKey: apiKey})
		require.Equal(t, http.StatusOK, status)
	}
	status, body := env.do(t, call{method: "POST", path: "/api/device/chip-1/heartbeat", apiKey: apiKey})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "GEN_004", body["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t, nil)

	status, body := env.do(t, call{method: "GET", path: "/api/health"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, raw := env.doRaw(t, call{method: "GET", path: "/metrics"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `pillpal_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestHealth_StorageDown(t *testing.T) {
	env := setupTestServer(t, nil)
	sqlDB, err := env.store.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	status, body := env.do(t, call{method: "GET", path: "/api/health"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", body["status"])
}

func TestRequestContext(t *testing.T) {
	env := setupTestServer(t, func(cfg *config.Config) { cfg.Server.RequestTimeout = 5 })

	var seen context.Context
	env.server.App().Get("/api/debug/ctx", func(c *fiber.Ctx) error {
		seen = c.UserContext()
		return c.SendStatus(http.StatusNoContent)
	})
	env.server.App().Get("/api/debug/slow", func(c *fiber.Ctx) error {
		return context.DeadlineExceeded
	})

	start := time.Now()
	status, _ := env.do(t, call{method: "GET", path: "/api/debug/ctx"})
	require.Equal(t, http.StatusNoContent, status)
	require.NotNil(t, seen)

	deadline, ok := seen.Deadline()
	require.True(t, ok, "api requests carry a deadline")
	assert.WithinDuration(t, start.Add(5*time.Second), deadline, 2*time.Second)
	assert.ErrorIs(t, seen.Err(), context.Canceled, "context ends with the request")

	status, body := env.do(t, call{method: "GET", path: "/api/debug/slow"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, apperrors.ErrStorageUnavailable.Code, body["code"])
}

func TestRequestContext_NoTimeout(t *testing.T) {
	env := setupTestServer(t, func(cfg *config.Config) { cfg.Server.RequestTimeout = 0 })

	var seen context.Context
	env.server.App().Get("/api/debug/ctx", func(c *fiber.Ctx) error {
		seen = c.UserContext()
		return c.SendStatus(http.StatusNoContent)
	})

	status, _ := env.do(t, call{method: "GET", path: "/api/debug/ctx"})
	require.Equal(t, http.StatusNoContent, status)
	_, ok := seen.Deadline()
	assert.False(t, ok)
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrUserNotFound, http.StatusNotFound},
		{apperrors.ErrEmailTaken, http.StatusConflict},
		{apperrors.ErrInvalidStatus.WithCause(assert.AnError), http.StatusBadRequest},
		{apperrors.ErrInvalidDeviceKey, http.StatusUnauthorized},
		{apperrors.ErrForbidden, http.StatusForbidden},
		{apperrors.ErrRateLimited, http.StatusTooManyRequests},
		{apperrors.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{apperrors.ErrCircuitOpen, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 75.0, percent(0.75))
	assert.Equal(t, 66.67, percent(2.0/3.0))
	assert.Equal(t, 0.0, percent(0))
}
