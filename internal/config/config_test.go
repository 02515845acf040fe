package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/live/updates", cfg.LivePath)
	assert.True(t, cfg.AuthRequired)
	assert.False(t, cfg.RejectUnauthenticated)
	assert.Equal(t, 100*time.Millisecond, cfg.BroadcastThrottle)
	assert.Equal(t, 60*time.Second, cfg.SessionRecheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.BookkeepingTTL)
	assert.Equal(t, 5*time.Second, cfg.MemorySampleInterval)
	assert.Equal(t, []string{"/api/backtest", "/api/montecarlo", "/api/features"}, cfg.HeavyPaths)
	assert.Equal(t, []string{"/api/health", "/api/ops", "/metrics"}, cfg.ExemptPaths)
	assert.Equal(t, "lantern:cache:*", cfg.CacheKeyPattern)
	assert.Equal(t, 500, cfg.CacheEvictBatch)
	assert.Equal(t, uint32(5), cfg.SessionBreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.SessionBreakerOpenFor)
	assert.Equal(t, 5.0, cfg.UpgradeRate)
	assert.Equal(t, 10, cfg.UpgradeBurst)
	assert.Zero(t, cfg.MemoryCeilingBytes())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "SESSION_SECRET=abcdefghijklmnopqrstuvwxyz\nBROADCAST_THROTTLE=250ms\nMEMORY_CEILING_MB=512\nLIVE_AUTH_REQUIRED=false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// godotenv never overrides variables already present in the environment
	t.Setenv("LOAD_SHED_HEAVY_PATHS", "/api/heavy")
	defer func() {
		for _, key := range []string{"SESSION_SECRET", "BROADCAST_THROTTLE", "MEMORY_CEILING_MB", "LIVE_AUTH_REQUIRED"} {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.BroadcastThrottle)
	assert.Equal(t, uint64(512*1024*1024), cfg.MemoryCeilingBytes())
	assert.False(t, cfg.AuthRequired)
	assert.Equal(t, []string{"/api/heavy"}, cfg.HeavyPaths)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("LIVE_AUTH_REQUIRED", "false")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SessionSecret:          "0123456789abcdef",
			AuthRequired:           true,
			BroadcastThrottle:      100 * time.Millisecond,
			SessionRecheckInterval: time.Minute,
			IdleTimeout:            5 * time.Minute,
			SweepInterval:          15 * time.Second,
			PingInterval:           30 * time.Second,
			BookkeepingTTL:         5 * time.Minute,
			MemorySampleInterval:   5 * time.Second,
			WorkerConcurrency:      1,
			CacheEvictBatch:        100,
			SessionBreakerOpenFor:  30 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.SessionSecret = "short" }, wantErr: true},
		{name: "short secret without auth", mutate: func(c *Config) { c.SessionSecret = ""; c.AuthRequired = false }},
		{name: "zero throttle", mutate: func(c *Config) { c.BroadcastThrottle = 0 }, wantErr: true},
		{name: "ping slower than idle", mutate: func(c *Config) { c.PingInterval = 10 * time.Minute }, wantErr: true},
		{name: "negative ceiling", mutate: func(c *Config) { c.MemoryCeilingMB = -1 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.WorkerConcurrency = 0 }, wantErr: true},
		{name: "empty eviction batch", mutate: func(c *Config) { c.CacheEvictBatch = 0 }, wantErr: true},
		{name: "upgrade limit disabled", mutate: func(c *Config) { c.UpgradeRate = 0 }},
		{name: "negative upgrade rate", mutate: func(c *Config) { c.UpgradeRate = -1 }, wantErr: true},
		{name: "zero breaker window", mutate: func(c *Config) { c.SessionBreakerOpenFor = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
