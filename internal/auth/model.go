package auth

import "time"

// User is an account keyed by its normalized email.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// OTPChallenge is the pending code for one email. Only the hash is stored.
type OTPChallenge struct {
	Email       string    `json:"email"`
	CodeHash    string    `json:"code_hash"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedAt time.Time `json:"requested_at"`
	Attempts    int       `json:"attempts"`
}

func (c OTPChallenge) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// Session is a bearer grant looked up by the hash of its token. The raw
// token is only ever returned once, from verify-otp.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// SessionInfo is the body of verify-otp and session responses.
type SessionInfo struct {
	User      User       `json:"user"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

func newSessionInfo(u User, sess Session) SessionInfo {
	seen := sess.LastSeen
	return SessionInfo{User: u, ExpiresAt: sess.ExpiresAt, LastSeen: &seen}
}
