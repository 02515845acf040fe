package session

import (
	"Lantern/internal/entity"
	"Lantern/pkg/db"
	"Lantern/pkg/log"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newTestRepository(t *testing.T) (Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := db.NewDbConnection(ctx, log.Nop(), db.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.CloseDbConnection(ctx) })
	return NewRepository(client), mr
}

func cookieFor(t *testing.T, sessionID string) string {
	t.Helper()
	value, err := Sign(sessionID, testSecret)
	require.NoError(t, err)
	return "theme=dark; lantern.sid=" + value
}

func TestRepositoryLookup(t *testing.T) {
	repo, mr := newTestRepository(t)
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, repo.Save(ctx, "abc", "user-1", expires))

	s, err := repo.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, s.Valid)
	assert.Equal(t, "user-1", s.UserID)
	assert.True(t, expires.Equal(s.ExpiresAt))
	assert.True(t, mr.TTL("session:abc") > 0)

	missing, err := repo.Lookup(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, missing.Valid)
}

func TestRepositoryLookupStoreDown(t *testing.T) {
	repo, mr := newTestRepository(t)
	mr.Close()

	_, err := repo.Lookup(ctx, "abc")
	assert.ErrorIs(t, err, ErrStore)
}

func TestAuthenticate(t *testing.T) {
	repo, mr := newTestRepository(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	v := NewValidator(repo, Options{CookieName: "lantern.sid", Secret: testSecret, Clock: clock}, log.Nop())

	require.NoError(t, repo.Save(ctx, "live", "user-1", clock.Now().Add(time.Hour)))
	require.NoError(t, repo.Save(ctx, "stale", "user-2", clock.Now().Add(time.Hour)))
	mr.HSet("session:anon", "expires_at", "0")

	tests := []struct {
		name    string
		header  string
		want    entity.AuthFailure
		wantUID string
	}{
		{name: "valid", header: cookieFor(t, "live"), want: entity.AuthOK, wantUID: "user-1"},
		{name: "no header", header: "", want: entity.AuthMissingCookie},
		{name: "other cookies only", header: "theme=dark", want: entity.AuthMissingCookie},
		{name: "forged", header: "lantern.sid=s:live.Zm9yZ2Vk", want: entity.AuthBadSignature},
		{name: "unknown", header: cookieFor(t, "ghost"), want: entity.AuthUnknownSession},
		{name: "no user", header: cookieFor(t, "anon"), want: entity.AuthNoUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Authenticate(ctx, tt.header)
			assert.Equal(t, tt.want, res.Failure)
			assert.Equal(t, tt.want == entity.AuthOK, res.Authenticated)
			assert.Equal(t, tt.wantUID, res.UserID)
		})
	}

	t.Run("expired", func(t *testing.T) {
		mr.HSet("session:stale", "expires_at", "1")
		res := v.Authenticate(ctx, cookieFor(t, "stale"))
		assert.False(t, res.Authenticated)
		assert.Equal(t, entity.AuthExpiredSession, res.Failure)
		assert.Equal(t, "stale", res.SessionID)
	})
}

func TestRevalidate(t *testing.T) {
	repo, mr := newTestRepository(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	v := NewValidator(repo, Options{CookieName: "lantern.sid", Secret: testSecret, Clock: clock}, log.Nop())
	require.NoError(t, repo.Save(ctx, "live", "user-1", clock.Now().Add(time.Minute)))

	ok, err := v.Revalidate(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	ok, err = v.Revalidate(ctx, "live")
	require.NoError(t, err)
	assert.False(t, ok, "session past its expiry")

	mr.Del("session:live")
	ok, err = v.Revalidate(ctx, "live")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingRepository struct{}

func (failingRepository) Lookup(context.Context, string) (entity.Session, error) {
	return entity.Session{}, ErrStore
}

func (failingRepository) Save(context.Context, string, string, time.Time) error {
	return ErrStore
}

func TestStoreErrorsAreReported(t *testing.T) {
	v := NewValidator(failingRepository{}, Options{CookieName: "lantern.sid", Secret: testSecret}, log.Nop())

	res := v.Authenticate(ctx, cookieFor(t, "live"))
	assert.False(t, res.Authenticated)
	assert.Equal(t, entity.AuthStoreError, res.Failure)

	_, err := v.Revalidate(ctx, "live")
	assert.True(t, errors.Is(err, ErrStore))
}
