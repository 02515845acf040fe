// Session repository encapsulates the data access logic (interactions with the DB) of sessions in Lantern.

package session

import (
	"Lantern/internal/entity"
	"Lantern/pkg/db"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrStore wraps every failure to reach the session store.
var ErrStore = errors.New("session store unavailable")

type Repository interface {
	// Lookup fetches session:<id> from the DB. A missing key is not an error, Valid is false instead.
	Lookup(ctx context.Context, sessionID string) (entity.Session, error)
	// Save stores session:<id> with an expiry matching expiresAt.
	Save(ctx context.Context, sessionID, userID string, expiresAt time.Time) error
}

// repository struct of session Repository.
// Object of this will be passed around from main to internal.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of session repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

// Hash fields stored under session:<id>.
type record struct {
	UserID    string `redis:"user_id"`
	ExpiresAt int64  `redis:"expires_at"`
}

func key(sessionID string) string {
	return "session:" + sessionID
}

func (r repository) Lookup(ctx context.Context, sessionID string) (entity.Session, error) {
	cmd := r.db.Client().HGetAll(ctx, key(sessionID))
	fields, dberr := cmd.Result()
	if dberr != nil {
		return entity.Session{}, fmt.Errorf("%w: %v", ErrStore, dberr)
	}
	if len(fields) == 0 {
		// Key doesn't exist, maybe got expired
		return entity.Session{}, nil
	}

	var rec record
	if scanerr := cmd.Scan(&rec); scanerr != nil {
		return entity.Session{}, fmt.Errorf("%w: %v", ErrStore, scanerr)
	}
	s := entity.Session{Valid: true, UserID: rec.UserID}
	if rec.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(rec.ExpiresAt, 0)
	}
	return s, nil
}

func (r repository) Save(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	k := key(sessionID)
	_, dberr := r.db.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "user_id", userID, "expires_at", expiresAt.Unix())
		pipe.ExpireAt(ctx, k, expiresAt)
		return nil
	})
	if dberr != nil {
		return fmt.Errorf("%w: %v", ErrStore, dberr)
	}
	return nil
}
