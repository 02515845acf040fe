// Sentinel repository encapsulates the data access logic (interactions with the DB) of the pressure snapshot.

package sentinel

import (
	"Lantern/internal/entity"
	"Lantern/pkg/db"
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

var pressureDbKey string = "lantern:pressure"

// ErrNoRepository is returned when the sentinel was built without a Repository.
var ErrNoRepository = errors.New("pressure transitions are not persisted")

type Repository interface {
	// GetSnapshot returns the last persisted pressure snapshot, ok is false when none was saved yet.
	GetSnapshot(ctx context.Context) (entity.PressureSnapshot, bool, error)
	// SaveSnapshot overwrites the pressure snapshot.
	SaveSnapshot(ctx context.Context, snapshot entity.PressureSnapshot) error
}

// repository struct of sentinel Repository.
// Object of this will be passed around from main to internal.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of sentinel repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

func (r repository) GetSnapshot(ctx context.Context) (entity.PressureSnapshot, bool, error) {
	// check if a snapshot is available in the db
	available, dberr := r.db.Client().Exists(ctx, pressureDbKey).Result()
	if dberr != nil {
		return entity.PressureSnapshot{}, false, fmt.Errorf("checking %s: %w", pressureDbKey, dberr)
	} else if available == 0 {
		return entity.PressureSnapshot{}, false, nil
	}
	var snapshot entity.PressureSnapshot
	if dberr = r.db.Client().HGetAll(ctx, pressureDbKey).Scan(&snapshot); dberr != nil {
		return entity.PressureSnapshot{}, false, fmt.Errorf("reading %s: %w", pressureDbKey, dberr)
	}
	return snapshot, true, nil
}

func (r repository) SaveSnapshot(ctx context.Context, snapshot entity.PressureSnapshot) error {
	txf := func(tx *redis.Tx) error {
		// Operation is commited only if the watched keys remain unchanged
		_, dberr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, pressureDbKey,
				"level", snapshot.Level,
				"heap_used_percent", snapshot.HeapUsedPercent,
				"load_shedding_active", snapshot.LoadSheddingActive,
				"workers_paused", snapshot.WorkersPaused,
				"changed_at", snapshot.ChangedAt,
			)
			return nil
		})
		return dberr
	}
	for i := 0; i < r.db.GetMaxRetries(); i++ {
		dberr := r.db.Client().Watch(ctx, txf, pressureDbKey)
		if dberr == nil {
			return nil
		} else if errors.Is(dberr, redis.TxFailedErr) {
			// Optimistic lock lost. Retry.
			continue
		}
		return fmt.Errorf("saving %s: %w", pressureDbKey, dberr)
	}
	return fmt.Errorf("saving %s: reached maximum number of retries", pressureDbKey)
}
