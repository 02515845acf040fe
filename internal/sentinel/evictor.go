package sentinel

import (
	"Lantern/pkg/db"
	"context"
	"fmt"
)

const defaultEvictBatch = 500

// RedisEvictor drops cached keys matching a pattern, one SCAN batch per pass.
// Each call reclaims at most one batch so an emergency loop stops as soon as the cache is empty.
type RedisEvictor struct {
	db      *db.RedisDB
	pattern string
	batch   int64
}

func NewRedisEvictor(dbwrp *db.RedisDB, pattern string, batch int) *RedisEvictor {
	if batch <= 0 {
		batch = defaultEvictBatch
	}
	return &RedisEvictor{db: dbwrp, pattern: pattern, batch: int64(batch)}
}

// Evict returns the number of keys deleted.
func (e *RedisEvictor) Evict(ctx context.Context) (int, error) {
	var (
		cursor uint64
		keys   []string
	)
	// SCAN may return fewer keys than COUNT per round, keep going until a batch is full or the keyspace is done
	for {
		found, next, dberr := e.db.Client().Scan(ctx, cursor, e.pattern, e.batch).Result()
		if dberr != nil {
			return 0, fmt.Errorf("scanning %s: %w", e.pattern, dberr)
		}
		keys = append(keys, found...)
		cursor = next
		if cursor == 0 || int64(len(keys)) >= e.batch {
			break
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if int64(len(keys)) > e.batch {
		keys = keys[:e.batch]
	}
	deleted, dberr := e.db.Client().Unlink(ctx, keys...).Result()
	if dberr != nil {
		return 0, fmt.Errorf("unlinking %d cached keys: %w", len(keys), dberr)
	}
	return int(deleted), nil
}
