// Initialization of Redis client to be used internally in Lantern.

package db

import (
	"Lantern/pkg/log"
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDB represents a redis client connection to be used internally in Lantern.
type RedisDB struct {
	client       *redis.Client
	txMaxRetries int
}

// Options describes how to reach the redis-server.
type Options struct {
	Addr         string
	Password     string
	DB           int
	TxMaxRetries int
	// DialTimeout bounds the initial connection, defaults to 5s.
	DialTimeout time.Duration
}

// Client returns the redis client wrapped by RedisDB.
func (db *RedisDB) Client() *redis.Client {
	return db.client
}

// GetMaxRetries returns the number of allowed retries in a watched redis transaction
func (db *RedisDB) GetMaxRetries() int {
	return db.txMaxRetries
}

// Returns a new Redis DB connection wrapped up by RedisDB struct.
func NewDbConnection(ctx context.Context, logger log.Logger, opts Options) (*RedisDB, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if opts.TxMaxRetries <= 0 {
		opts.TxMaxRetries = 3
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	// Initializing a connection to Redis-server
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	logger.WithCtx(ctx).Debug().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis client initialized")
	return &RedisDB{client: client, txMaxRetries: opts.TxMaxRetries}, nil
}

// Helper to check connection status of redis client to redis-server.
// Equivalent to a PING request on redis-server, returns PONG on success.
func (db *RedisDB) CheckDbConnection(ctx context.Context, logger log.Logger) error {
	logger.WithCtx(ctx).Info().Msg("Checking DB Connection . . .")
	// Pinging the Redis-server to check connection status
	if cnterr := db.Client().Ping(ctx).Err(); cnterr != nil {
		// Most likely, DB connection failure
		logger.WithCtx(ctx).Error().Err(cnterr).Msg("Redis client couldn't PING the redis-server.")
		return cnterr
	}
	// Connection successful
	logger.WithCtx(ctx).Info().Msg("Connection to DB Successful")
	return nil
}

// Helper to close the RedisDB client, should be called before closing the server.
func (db *RedisDB) CloseDbConnection(ctx context.Context) error {
	return db.Client().Close()
}
