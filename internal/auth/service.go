package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"taskhive/internal/httpmw"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidOTPFormat   = errors.New("otp code must be 6 digits")
	ErrInvalidOTP         = errors.New("invalid otp code")
	ErrOTPExpired         = errors.New("otp code expired")
	ErrTooManyOTPAttempts = errors.New("too many invalid otp attempts")
)

// Settings controls cookies and lifetimes. The zero value is usable; unset
// fields take the defaults from DefaultSettings.
type Settings struct {
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   string // auto, true, false
	CookieSameSite http.SameSite
	SessionTTL     time.Duration
	OTPTTL         time.Duration
	MaxOTPAttempts int
}

func DefaultSettings() Settings {
	return Settings{
		CookieName:     "taskhive_session",
		CookiePath:     "/",
		CookieSecure:   "auto",
		CookieSameSite: http.SameSiteLaxMode,
		SessionTTL:     7 * 24 * time.Hour,
		OTPTTL:         10 * time.Minute,
		MaxOTPAttempts: 5,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.CookieName == "" {
		s.CookieName = d.CookieName
	}
	if s.CookiePath == "" {
		s.CookiePath = d.CookiePath
	}
	if s.CookieSecure == "" {
		s.CookieSecure = d.CookieSecure
	}
	if s.CookieSameSite == 0 {
		s.CookieSameSite = d.CookieSameSite
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = d.SessionTTL
	}
	if s.OTPTTL <= 0 {
		s.OTPTTL = d.OTPTTL
	}
	if s.MaxOTPAttempts <= 0 {
		s.MaxOTPAttempts = d.MaxOTPAttempts
	}
	return s
}

// ParseSameSite maps "strict", "lax" and "none"; anything else is Lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

type Service struct {
	repo     *FileRepo
	logger   *log.Logger
	settings Settings
}

func NewService(repo *FileRepo, settings Settings, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		settings: settings.withDefaults(),
	}
}

func (s *Service) Settings() Settings { return s.settings }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return ErrInvalidEmail
	}
	if strings.ToLower(addr.Address) != email {
		return ErrInvalidEmail
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != 6 {
		return ErrInvalidOTPFormat
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ErrInvalidOTPFormat
		}
	}
	return nil
}

func hashOTP(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func (s *Service) RequestOTP(email string, now time.Time) (expiresAt time.Time, code string, err error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return time.Time{}, "", err
	}
	code, err = generateOTPCode()
	if err != nil {
		return time.Time{}, "", err
	}
	ch := OTPChallenge{
		Email:       email,
		CodeHash:    hashOTP(email, code),
		ExpiresAt:   now.Add(s.settings.OTPTTL),
		RequestedAt: now,
	}
	if err := s.repo.PutChallenge(ch); err != nil {
		return time.Time{}, "", err
	}
	return ch.ExpiresAt, code, nil
}

func (s *Service) VerifyOTP(email, otpCode string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}
	if err := validateCode(otpCode); err != nil {
		return User{}, "", time.Time{}, err
	}

	ch, ok := s.repo.GetChallenge(email)
	if !ok {
		return User{}, "", time.Time{}, ErrInvalidOTP
	}
	if ch.Expired(now) {
		_ = s.repo.DeleteChallenge(email)
		return User{}, "", time.Time{}, ErrOTPExpired
	}
	if ch.Attempts >= s.settings.MaxOTPAttempts {
		_ = s.repo.DeleteChallenge(email)
		return User{}, "", time.Time{}, ErrTooManyOTPAttempts
	}

	if hashOTP(email, otpCode) != ch.CodeHash {
		ch.Attempts++
		if ch.Attempts >= s.settings.MaxOTPAttempts {
			_ = s.repo.DeleteChallenge(email)
			return User{}, "", time.Time{}, ErrTooManyOTPAttempts
		}
		_ = s.repo.PutChallenge(ch)
		return User{}, "", time.Time{}, ErrInvalidOTP
	}

	if err := s.repo.DeleteChallenge(email); err != nil {
		return User{}, "", time.Time{}, err
	}

	u, created, err := s.repo.GetOrCreateUser(email, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	if created {
		s.logger.Info("user created", "user_id", u.ID)
	}

	token, err := generateToken()
	if err != nil {
		return User{}, "", time.Time{}, err
	}

	exp := now.Add(s.settings.SessionTTL)
	sess := Session{
		ID:        newID(),
		UserID:    u.ID,
		TokenHash: hashToken(token),
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: exp,
	}
	if err := s.repo.CreateSession(sess); err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

// requestToken prefers an Authorization bearer token over the cookie.
func (s *Service) requestToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	cookie, err := r.Cookie(s.settings.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Service) AuthenticateRequest(r *http.Request, now time.Time) (User, Session, bool) {
	token := s.requestToken(r)
	if token == "" {
		return User{}, Session{}, false
	}

	sess, ok := s.repo.GetSessionByTokenHash(hashToken(token))
	if !ok {
		return User{}, Session{}, false
	}
	if sess.Expired(now) {
		_ = s.repo.DeleteSessionByID(sess.ID)
		return User{}, Session{}, false
	}

	u, ok := s.repo.GetUserByID(sess.UserID)
	if !ok {
		_ = s.repo.DeleteSessionByID(sess.ID)
		return User{}, Session{}, false
	}

	// last-seen writes are throttled
	if now.Sub(sess.LastSeen) >= 5*time.Minute {
		_ = s.repo.TouchSession(sess.ID, now)
		sess.LastSeen = now
	}
	return u, sess, true
}

func (s *Service) RevokeSessionForRequest(r *http.Request) {
	token := s.requestToken(r)
	if token == "" {
		return
	}
	_ = s.repo.DeleteSessionByTokenHash(hashToken(token))
}

func (s *Service) shouldUseSecureCookie(r *http.Request) bool {
	switch strings.ToLower(s.settings.CookieSecure) {
	case "true":
		return true
	case "false":
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func (s *Service) cookie(r *http.Request, value string, expires time.Time) *http.Cookie {
	secure := s.shouldUseSecureCookie(r)
	sameSite := s.settings.CookieSameSite
	// browsers drop SameSite=None cookies that are not Secure
	if sameSite == http.SameSiteNoneMode && !secure {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     s.settings.CookieName,
		Value:    value,
		Path:     s.settings.CookiePath,
		Domain:   s.settings.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

func (s *Service) hasSessionCookie(r *http.Request) bool {
	c, err := r.Cookie(s.settings.CookieName)
	return err == nil && c.Value != ""
}

func (s *Service) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, s.cookie(r, token, expiresAt))
}

func (s *Service) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	c := s.cookie(r, "", time.Unix(0, 0))
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, sess, ok := s.AuthenticateRequest(r, time.Now())
		if !ok {
			httpmw.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := withSessionContext(withUserContext(r.Context(), u), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
