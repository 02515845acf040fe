// Loads up the environment configuration used internally by Lantern.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds every tunable of the Lantern server. All fields are optional.
type Config struct {
	Env      string `env:"ENV" default:"PROD"`
	Version  string `env:"VERSION" default:"1.0.0"`
	SrvAddr  string `env:"SRV_ADDR" default:"0.0.0.0"`
	SrvPort  string `env:"SRV_PORT" default:"8080"`
	LogLevel string `env:"LOG_LEVEL" default:"info"`
	LogFile  string `env:"LOG_FILE"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`

	RedisAddr         string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" default:"0"`
	RedisTxMaxRetries int    `env:"REDIS_TX_MAX_RETRIES" default:"3"`

	SessionSecret          string        `env:"SESSION_SECRET"`
	SessionCookieName      string        `env:"SESSION_COOKIE_NAME" default:"lantern.sid"`
	SessionBreakerFailures uint32        `env:"SESSION_BREAKER_FAILURES" default:"5"`
	SessionBreakerOpenFor  time.Duration `env:"SESSION_BREAKER_OPEN_FOR" default:"30s"`

	LivePath                string        `env:"LIVE_PATH" default:"/live/updates"`
	AuthRequired            bool          `env:"LIVE_AUTH_REQUIRED" default:"true"`
	RejectUnauthenticated   bool          `env:"LIVE_REJECT_UNAUTHENTICATED" default:"false"`
	BroadcastThrottle       time.Duration `env:"BROADCAST_THROTTLE" default:"100ms"`
	SessionRecheckInterval  time.Duration `env:"SESSION_RECHECK_INTERVAL" default:"60s"`
	IdleTimeout             time.Duration `env:"LIVE_IDLE_TIMEOUT" default:"5m"`
	SweepInterval           time.Duration `env:"LIVE_SWEEP_INTERVAL" default:"15s"`
	PingInterval            time.Duration `env:"LIVE_PING_INTERVAL" default:"30s"`
	BookkeepingTTL          time.Duration `env:"BOOKKEEPING_TTL" default:"5m"`
	AllowedWebSocketOrigins []string      `env:"LIVE_ALLOWED_ORIGINS"`
	UpgradeRate             float64       `env:"LIVE_UPGRADE_RATE" default:"5"`
	UpgradeBurst            int           `env:"LIVE_UPGRADE_BURST" default:"10"`

	MemoryCeilingMB      int           `env:"MEMORY_CEILING_MB" default:"0"`
	MemorySampleInterval time.Duration `env:"MEMORY_SAMPLE_INTERVAL" default:"5s"`
	HeavyPaths           []string      `env:"LOAD_SHED_HEAVY_PATHS" default:"/api/backtest,/api/montecarlo,/api/features"`
	ExemptPaths          []string      `env:"LOAD_SHED_EXEMPT_PATHS" default:"/api/health,/api/ops,/metrics"`
	RetryAfter           time.Duration `env:"LOAD_SHED_RETRY_AFTER" default:"30s"`
	CacheKeyPattern      string        `env:"CACHE_KEY_PATTERN" default:"lantern:cache:*"`
	CacheEvictBatch      int           `env:"CACHE_EVICT_BATCH" default:"500"`

	WorkerConcurrency int      `env:"WORKER_CONCURRENCY" default:"4"`
	HeavyTaskTypes    []string `env:"WORKER_HEAVY_TASKS" default:"backtest,montecarlo,features"`
}

// Load reads an optional env file and then the process environment into a Config.
// envFile may be empty, in which case only the process environment is used.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	if c.AuthRequired && len(c.SessionSecret) < 16 {
		return errors.New("SESSION_SECRET must be at least 16 characters when LIVE_AUTH_REQUIRED is set")
	}
	durations := map[string]time.Duration{
		"BROADCAST_THROTTLE":       c.BroadcastThrottle,
		"SESSION_RECHECK_INTERVAL": c.SessionRecheckInterval,
		"LIVE_IDLE_TIMEOUT":        c.IdleTimeout,
		"LIVE_SWEEP_INTERVAL":      c.SweepInterval,
		"LIVE_PING_INTERVAL":       c.PingInterval,
		"BOOKKEEPING_TTL":          c.BookkeepingTTL,
		"MEMORY_SAMPLE_INTERVAL":   c.MemorySampleInterval,
		"SESSION_BREAKER_OPEN_FOR": c.SessionBreakerOpenFor,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.PingInterval >= c.IdleTimeout {
		return fmt.Errorf("LIVE_PING_INTERVAL (%s) must be shorter than LIVE_IDLE_TIMEOUT (%s)", c.PingInterval, c.IdleTimeout)
	}
	if c.MemoryCeilingMB < 0 {
		return errors.New("MEMORY_CEILING_MB cannot be negative")
	}
	if c.UpgradeRate < 0 || c.UpgradeBurst < 0 {
		return errors.New("LIVE_UPGRADE_RATE and LIVE_UPGRADE_BURST cannot be negative")
	}
	if c.CacheEvictBatch <= 0 {
		return errors.New("CACHE_EVICT_BATCH must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}
	return nil
}

// MemoryCeilingBytes converts MemoryCeilingMB, zero means "not configured".
func (c *Config) MemoryCeilingBytes() uint64 {
	return uint64(c.MemoryCeilingMB) * 1024 * 1024
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.SrvAddr + ":" + c.SrvPort
}
