package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"taskhive/internal/httpmw"
)

const maxAuthBody = 4 << 10

// Handler serves /api/auth. Clients authenticate with the bearer token
// returned by verify-otp; browsers may ask for a cookie instead.
type Handler struct {
	service *Service
	now     func() time.Time
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, now: time.Now}
}

type otpRequest struct {
	Email  string `json:"email"`
	Code   string `json:"code,omitempty"`
	Cookie bool   `json:"cookie,omitempty"`
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	httpmw.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func decodeOTPRequest(w http.ResponseWriter, r *http.Request) (otpRequest, bool) {
	var in otpRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid json")
		return otpRequest{}, false
	}
	return in, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidOTPFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidOTP), errors.Is(err, ErrOTPExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTooManyOTPAttempts):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.service.logger.Error(op+" failed", "err", err)
		httpmw.WriteError(w, status, "internal error")
		return
	}
	httpmw.WriteError(w, status, err.Error())
}

// POST /api/auth/request-otp
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	in, ok := decodeOTPRequest(w, r)
	if !ok {
		return
	}
	exp, code, err := h.service.RequestOTP(in.Email, h.now())
	if err != nil {
		h.fail(w, "request otp", err)
		return
	}

	// No mail transport; the code is delivered through the server log.
	h.service.logger.Info("otp issued", "email", normalizeEmail(in.Email), "code", code, "expires", exp.Format(time.RFC3339))
	httpmw.WriteJSON(w, http.StatusOK, map[string]any{"expires_at": exp})
}

// POST /api/auth/verify-otp
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	in, ok := decodeOTPRequest(w, r)
	if !ok {
		return
	}
	u, token, exp, err := h.service.VerifyOTP(in.Email, in.Code, h.now())
	if err != nil {
		h.fail(w, "verify otp", err)
		return
	}
	if in.Cookie {
		h.service.SetSessionCookie(w, r, token, exp)
	}
	httpmw.WriteJSON(w, http.StatusOK, SessionInfo{User: u, Token: token, ExpiresAt: exp})
}

// GET /api/auth/session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	u, sess, ok := h.service.AuthenticateRequest(r, h.now())
	if !ok {
		httpmw.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, newSessionInfo(u, sess))
}

// POST /api/auth/logout revokes whichever credential the request carries.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	h.service.RevokeSessionForRequest(r)
	if h.service.hasSessionCookie(r) {
		h.service.ClearSessionCookie(w, r)
	}
	w.WriteHeader(http.StatusNoContent)
}
