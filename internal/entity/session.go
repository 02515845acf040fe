// Structure of the session information consumed by the live connection layer.

package entity

import "time"

// Session is what the session store knows about a session id.
type Session struct {
	Valid     bool
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the session has an expiry in the past.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AuthFailure explains why a connection is unauthenticated. Only logged, never sent to clients.
type AuthFailure string

const (
	AuthOK             AuthFailure = ""
	AuthMissingCookie  AuthFailure = "missing_cookie"
	AuthBadSignature   AuthFailure = "bad_signature"
	AuthUnknownSession AuthFailure = "unknown_session"
	AuthExpiredSession AuthFailure = "expired_session"
	AuthNoUser         AuthFailure = "no_user"
	AuthStoreError     AuthFailure = "store_error"
)

// AuthResult is the outcome of authenticating a connection handshake.
type AuthResult struct {
	Authenticated bool
	UserID        string
	SessionID     string
	ExpiresAt     time.Time
	Failure       AuthFailure
}
