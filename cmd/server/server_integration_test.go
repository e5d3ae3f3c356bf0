package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/internal/config"
	"taskhive/internal/logging"
	"taskhive/internal/model"
	"taskhive/internal/serverapp"
)

// syncBuffer lets the handler log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testApp struct {
	app   *serverapp.App
	logs  *syncBuffer
	token string
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Server.DataDir = t.TempDir()
	cfg.Log.Level = "debug"
	for _, fn := range mutate {
		fn(cfg)
	}

	logs := &syncBuffer{}
	logger := logging.New(logging.Options{Level: "debug", Format: "json", Writer: logs})

	app, err := serverapp.New(context.Background(), serverapp.Options{Config: cfg, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	return &testApp{app: app, logs: logs}
}

func (a *testApp) json(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	return a.request(method, path, r)
}

func (a *testApp) request(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.app.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// otpCodeFromLogs returns the code of the last "otp issued" log line.
func otpCodeFromLogs(t *testing.T, logs *syncBuffer) string {
	t.Helper()
	var code string
	sc := bufio.NewScanner(strings.NewReader(logs.String()))
	for sc.Scan() {
		var line map[string]any
		if json.Unmarshal(sc.Bytes(), &line) != nil {
			continue
		}
		if line["msg"] == "otp issued" {
			code, _ = line["code"].(string)
		}
	}
	require.NotEmpty(t, code, "no otp code in logs: %s", logs.String())
	return code
}

func (a *testApp) login(t *testing.T, email string) {
	t.Helper()

	res := a.json(http.MethodPost, "/api/auth/request-otp", map[string]any{"email": email})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	verify := a.json(http.MethodPost, "/api/auth/verify-otp", map[string]any{
		"email": email,
		"code":  otpCodeFromLogs(t, a.logs),
	})
	require.Equal(t, http.StatusOK, verify.Code, verify.Body.String())

	body := decode[struct {
		Token string `json:"token"`
	}](t, verify)
	require.NotEmpty(t, body.Token)
	a.token = body.Token
}

func TestServer_ProtectedRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/api/tasks", "/api/tasks/stats", "/api/trash", "/api/activity/stats", "/api/config"} {
		res := app.request(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code, path)
	}
}

func TestServer_HealthAndReadinessExposeRequestID(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res := app.request(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, res.Code, path)
		assert.NotEmpty(t, strings.TrimSpace(res.Header().Get("X-Request-Id")), path)
	}
}

func TestServer_OTPLoginAndTaskRoundTrip(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "integration@example.com")

	created := app.json(http.MethodPost, "/api/tasks", map[string]any{
		"title":    "Write report",
		"priority": "HIGH",
		"category": "work",
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	task := decode[model.Task](t, created)
	assert.Equal(t, model.PriorityHigh, task.Priority)

	toggled := app.request(http.MethodPatch, "/api/tasks/"+string(task.ID)+"/toggle", nil)
	require.Equal(t, http.StatusOK, toggled.Code, toggled.Body.String())
	assert.True(t, decode[model.Task](t, toggled).IsCompleted)

	stats := app.request(http.MethodGet, "/api/tasks/stats", nil)
	require.Equal(t, http.StatusOK, stats.Code)
	assert.Equal(t, model.Stats{Total: 1, Completed: 1}, decode[model.Stats](t, stats))

	del := app.request(http.MethodDelete, "/api/tasks/"+string(task.ID), nil)
	require.Equal(t, http.StatusNoContent, del.Code)

	trash := app.request(http.MethodGet, "/api/trash", nil)
	require.Equal(t, http.StatusOK, trash.Code)
	page := decode[model.Page](t, trash)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, task.ID, page.Tasks[0].ID)

	restored := app.request(http.MethodPost, "/api/trash/"+string(task.ID)+"/restore", nil)
	require.Equal(t, http.StatusOK, restored.Code, restored.Body.String())

	activity := app.request(http.MethodGet, "/api/activity/stats?days=1", nil)
	require.Equal(t, http.StatusOK, activity.Code, activity.Body.String())
	assert.Contains(t, activity.Body.String(), "work")
}

func TestServer_UsersCannotTouchEachOthersTasks(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "alice@example.com")
	created := app.json(http.MethodPost, "/api/tasks", map[string]any{"title": "alice only"})
	require.Equal(t, http.StatusCreated, created.Code)
	id := decode[model.Task](t, created).ID

	app.login(t, "bob@example.com")
	res := app.request(http.MethodGet, "/api/tasks/"+string(id), nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	bulk := app.json(http.MethodPost, "/api/tasks/bulk/update", map[string]any{
		"task_ids":    []string{string(id)},
		"update_type": "status",
		"params":      map[string]any{"status": true},
	})
	assert.Equal(t, http.StatusForbidden, bulk.Code, bulk.Body.String())

	list := app.request(http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Zero(t, decode[model.Page](t, list).Total)
}

func TestServer_ConfigRedactsSecrets(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "ops@example.com")

	res := app.request(http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, res.Code)
	cfg := decode[config.Config](t, res)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.Trash.RetentionDays)
}

func TestServer_RateLimitRejectsBursts(t *testing.T) {
	app := newTestApp(t, func(c *config.Config) { c.RateLimit.Requests = 2 })

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = app.request(http.MethodGet, "/api/tasks", nil).Code
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestRootCmd_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("TASKHIVE_STORAGE", "cassandra")
	t.Setenv("TASKHIVE_CONFIG", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--maintenance-interval", "0"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}
