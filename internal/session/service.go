// Service layer of the internal package session.

package session

import (
	"Lantern/internal/entity"
	"Lantern/pkg/log"
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Validator authenticates live connection handshakes against the session store.
type Validator interface {
	// Authenticate never fails, an unauthenticated result carries the reason instead.
	Authenticate(ctx context.Context, cookieHeader string) entity.AuthResult
	// Revalidate reports whether sessionID still maps to a live session with a user.
	// A non-nil error means the store could not answer.
	Revalidate(ctx context.Context, sessionID string) (bool, error)
}

// Options of the session Validator.
type Options struct {
	CookieName string
	Secret     string
	// LookupTimeout bounds every store round trip, defaults to 2s.
	LookupTimeout time.Duration
	Clock         clockwork.Clock
}

type validator struct {
	repo   Repository
	opts   Options
	logger log.Logger
	// Collapses concurrent lookups of one session, a maintenance pass and a handshake often overlap.
	lookups singleflight.Group
}

// Helps to access the service layer interface and call methods. Validator object is passed from main.
func NewValidator(repo Repository, opts Options, logger log.Logger) Validator {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &validator{repo: repo, opts: opts, logger: logger}
}

func (v *validator) Authenticate(ctx context.Context, cookieHeader string) entity.AuthResult {
	value := fetchSessionCookie(cookieHeader, v.opts.CookieName)
	if value == "" {
		return entity.AuthResult{Failure: entity.AuthMissingCookie}
	}
	sessionID, ok := Unsign(value, v.opts.Secret)
	if !ok {
		return entity.AuthResult{Failure: entity.AuthBadSignature}
	}

	s, err := v.lookup(ctx, sessionID)
	if err != nil {
		v.logger.WithCtx(ctx).Error().Err(err).Msg("Session lookup failed during handshake")
		return entity.AuthResult{SessionID: sessionID, Failure: entity.AuthStoreError}
	}
	if failure := v.check(s); failure != entity.AuthOK {
		return entity.AuthResult{SessionID: sessionID, Failure: failure}
	}
	return entity.AuthResult{
		Authenticated: true,
		UserID:        s.UserID,
		SessionID:     sessionID,
		ExpiresAt:     s.ExpiresAt,
	}
}

func (v *validator) Revalidate(ctx context.Context, sessionID string) (bool, error) {
	s, err := v.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return v.check(s) == entity.AuthOK, nil
}

// lookup shares one store round trip between concurrent callers. The shared call is detached
// from the first caller's cancellation and bounded by LookupTimeout only.
func (v *validator) lookup(ctx context.Context, sessionID string) (entity.Session, error) {
	res, err, _ := v.lookups.Do(sessionID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.opts.LookupTimeout)
		defer cancel()
		return v.repo.Lookup(ctx, sessionID)
	})
	if err != nil {
		return entity.Session{}, err
	}
	return res.(entity.Session), nil
}

func (v *validator) check(s entity.Session) entity.AuthFailure {
	switch {
	case !s.Valid:
		return entity.AuthUnknownSession
	case s.Expired(v.opts.Clock.Now()):
		return entity.AuthExpiredSession
	case s.UserID == "":
		return entity.AuthNoUser
	}
	return entity.AuthOK
}

// Helper to fetch the session cookie value from a raw Cookie header.
func fetchSessionCookie(cookieHeader, name string) string {
	if cookieHeader == "" {
		return ""
	}
	req := http.Request{Header: http.Header{"Cookie": {cookieHeader}}}
	cookie, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
