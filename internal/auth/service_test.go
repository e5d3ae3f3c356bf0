package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthServiceForTests(t *testing.T, settings Settings) *Service {
	t.Helper()
	repo, err := NewFileRepo(t.TempDir())
	require.NoError(t, err)
	return NewService(repo, settings, nil)
}

func login(t *testing.T, svc *Service, email string, now time.Time) (User, string, time.Time) {
	t.Helper()
	_, code, err := svc.RequestOTP(email, now)
	require.NoError(t, err)
	u, token, exp, err := svc.VerifyOTP(email, code, now.Add(time.Minute))
	require.NoError(t, err)
	return u, token, exp
}

func TestService_VerifyOTP_TooManyAttempts(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, _, err := svc.RequestOTP("tester@example.com", now)
	require.NoError(t, err)

	for i := 0; i < svc.settings.MaxOTPAttempts-1; i++ {
		_, _, _, err := svc.VerifyOTP("tester@example.com", "000000", now.Add(30*time.Second))
		require.ErrorIs(t, err, ErrInvalidOTP, "attempt %d", i+1)
	}
	_, _, _, err = svc.VerifyOTP("tester@example.com", "000000", now.Add(45*time.Second))
	assert.ErrorIs(t, err, ErrTooManyOTPAttempts)
}

func TestService_VerifyOTP_Expired(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{OTPTTL: time.Minute})
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)
	_, code, err := svc.RequestOTP("late@example.com", now)
	require.NoError(t, err)

	_, _, _, err = svc.VerifyOTP("late@example.com", code, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestService_AuthenticateRequest_ExpiredSessionIsRejected(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	u, token, exp := login(t, svc, "expired@example.com", now)
	assert.Equal(t, "expired@example.com", u.Email)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: svc.settings.CookieName, Value: token})

	_, _, ok := svc.AuthenticateRequest(req, exp.Add(time.Second))
	assert.False(t, ok)
	_, ok = svc.repo.GetSessionByTokenHash(hashToken(token))
	assert.False(t, ok, "expired session is removed")
}

func TestService_AuthenticateRequest_BearerToken(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	now := time.Now()
	u, token, _ := login(t, svc, "cli@example.com", now)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	got, _, ok := svc.AuthenticateRequest(req, now.Add(2*time.Minute))
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)

	req.Header.Set("Authorization", "Bearer nope")
	_, _, ok = svc.AuthenticateRequest(req, now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestService_SettingsDefaults(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{
		CookieName:     "th_session",
		CookieSameSite: http.SameSiteStrictMode,
		SessionTTL:     24 * time.Hour,
	})
	s := svc.Settings()
	assert.Equal(t, "th_session", s.CookieName)
	assert.Equal(t, http.SameSiteStrictMode, s.CookieSameSite)
	assert.Equal(t, 24*time.Hour, s.SessionTTL)
	assert.Equal(t, 10*time.Minute, s.OTPTTL)
	assert.Equal(t, 5, s.MaxOTPAttempts)
	assert.Equal(t, "/", s.CookiePath)
}

func TestService_SetSessionCookie_DowngradesSameSiteNoneWithoutSecure(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{
		CookieSameSite: ParseSameSite("none"),
		CookieSecure:   "false",
		CookieDomain:   "example.com",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	svc.SetSessionCookie(w, req, "token-123", time.Now().Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.False(t, c.Secure)
	assert.Equal(t, "example.com", c.Domain)
}

func TestRequireAPI(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	_, token, _ := login(t, svc, "api@example.com", time.Now())

	h := svc.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		assert.True(t, ok)
		_, _ = w.Write([]byte(u.Email))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "api@example.com", rr.Body.String())
}

func TestHandler_VerifyOTPReturnsToken(t *testing.T) {
	var logs bytes.Buffer
	repo := NewMemoryRepo()
	svc := NewService(repo, Settings{}, log.NewWithOptions(&logs, log.Options{Formatter: log.JSONFormatter}))
	h := NewHandler(svc)

	rr := httptest.NewRecorder()
	h.RequestOTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/request-otp", bytes.NewBufferString(`{"email":"Me@Example.com"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	var line struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &line))
	require.Len(t, line.Code, 6)

	rr = httptest.NewRecorder()
	body := `{"email":"me@example.com","code":"` + line.Code + `"}`
	h.VerifyOTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/verify-otp", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var out SessionInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, "me@example.com", out.User.Email)
	assert.False(t, out.ExpiresAt.IsZero())
	assert.Empty(t, rr.Result().Cookies(), "bearer clients get no cookie")
}

func TestHandler_VerifyOTPSetsCookieOnRequest(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	h := NewHandler(svc)
	_, code, err := svc.RequestOTP("web@example.com", time.Now())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	body := `{"email":"web@example.com","code":"` + code + `","cookie":true}`
	h.VerifyOTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/verify-otp", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "taskhive_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestHandler_Errors(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	h := NewHandler(svc)

	tests := []struct {
		name   string
		fn     http.HandlerFunc
		method string
		body   string
		status int
		msg    string
	}{
		{"wrong method", h.RequestOTP, http.MethodGet, "", http.StatusMethodNotAllowed, "method not allowed"},
		{"bad json", h.RequestOTP, http.MethodPost, `{"email":`, http.StatusBadRequest, "invalid json"},
		{"unknown field", h.RequestOTP, http.MethodPost, `{"mail":"a@b.c"}`, http.StatusBadRequest, "invalid json"},
		{"bad email", h.RequestOTP, http.MethodPost, `{"email":"nope"}`, http.StatusBadRequest, ErrInvalidEmail.Error()},
		{"bad code format", h.VerifyOTP, http.MethodPost, `{"email":"a@b.co","code":"12"}`, http.StatusBadRequest, ErrInvalidOTPFormat.Error()},
		{"no challenge", h.VerifyOTP, http.MethodPost, `{"email":"a@b.co","code":"123456"}`, http.StatusUnauthorized, ErrInvalidOTP.Error()},
		{"no session", h.Session, http.MethodGet, "", http.StatusUnauthorized, "unauthorized"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tc.fn(rr, httptest.NewRequest(tc.method, "/api/auth", bytes.NewBufferString(tc.body)))
			assert.Equal(t, tc.status, rr.Code)
			assert.JSONEq(t, `{"error":"`+tc.msg+`"}`, rr.Body.String())
		})
	}
}

func TestHandler_SessionAndLogoutWithBearer(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	h := NewHandler(svc)
	_, token, exp := login(t, svc, "bearer@example.com", time.Now())

	authed := func(method, path string) *http.Request {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	rr := httptest.NewRecorder()
	h.Session(rr, authed(http.MethodGet, "/api/auth/session"))
	require.Equal(t, http.StatusOK, rr.Code)
	var info SessionInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, "bearer@example.com", info.User.Email)
	assert.Empty(t, info.Token)
	assert.WithinDuration(t, exp, info.ExpiresAt, time.Second)
	require.NotNil(t, info.LastSeen)

	rr = httptest.NewRecorder()
	h.Logout(rr, authed(http.MethodPost, "/api/auth/logout"))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Result().Cookies())

	rr = httptest.NewRecorder()
	h.Session(rr, authed(http.MethodGet, "/api/auth/session"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandler_LogoutClearsCookie(t *testing.T) {
	svc := newAuthServiceForTests(t, Settings{})
	h := NewHandler(svc)
	_, token, _ := login(t, svc, "cookie@example.com", time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "taskhive_session", Value: token})
	rr := httptest.NewRecorder()
	h.Logout(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	_, _, ok := svc.AuthenticateRequest(req, time.Now())
	assert.False(t, ok)
}

func TestFileRepo_PurgeExpired(t *testing.T) {
	repo, err := NewFileRepo(t.TempDir())
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, repo.CreateSession(Session{ID: "s1", TokenHash: "h1", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.CreateSession(Session{ID: "s2", TokenHash: "h2", ExpiresAt: now.Add(time.Hour)}))

	n, err := repo.PurgeExpired(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := repo.GetSessionByTokenHash("h2")
	assert.True(t, ok)
}
