// The main file of Lantern.

package main

import (
	"Lantern/internal/config"
	"Lantern/pkg/cleanup"
	"Lantern/pkg/db"
	"Lantern/pkg/log"
	"Lantern/pkg/metrics"
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Indicates the current version of Lantern.
var Version = "1.0.0"

// Optional env file, the process environment always wins over it.
var envFile = flag.String("env-file", ".env", "path to an optional env file")

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.Load(*envFile)
	if err != nil {
		// No logger yet, the config decides how to log
		log.New(log.Options{Version: Version}).Fatal().Err(err).Msg("Couldn't load the configuration")
	}
	if cfg.Version != "" {
		Version = cfg.Version
	}
	logger := log.New(log.Options{Version: Version, Env: cfg.Env, File: cfg.LogFile, Level: cfg.LogLevel})
	logger.Info().Str("env", cfg.Env).Msgf("Welcome to Lantern: v%s", Version)

	// This is the preferred mode used by gin server in DEV environment.
	if cfg.Env == "DEV" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	dbwrp, err := db.NewDbConnection(ctx, logger, db.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		TxMaxRetries: cfg.RedisTxMaxRetries,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't create the redis client")
	}
	// Sending a PING request to DB for connection status check.
	if err := dbwrp.CheckDbConnection(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("Redis client couldn't PING the redis-server.")
	}

	reg := metrics.NewRegistry()
	app := build(cfg, dbwrp, reg, logger)

	// Initializing the gin server.
	server := gin.New()
	Router(server, cfg, app, reg, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.sentinel.Start(ctx)
	app.live.Start(ctx)

	// ListenAndServe is a blocking operation, putting it a goroutine
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Lantern is listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Gin server stopped unexpectedly")
		}
	}()

	// Graceful shutdown of Lantern server triggered due to system interruptions.
	wait := cleanup.GracefulShutdown(ctx, logger, 10*time.Second, map[string]cleanup.Operation{
		"Gin": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"Live-updates": func(ctx context.Context) error {
			return app.live.Shutdown(ctx)
		},
		"Sentinel": func(ctx context.Context) error {
			app.sentinel.Stop()
			return nil
		},
		"Redis-server": func(ctx context.Context) error {
			return dbwrp.CloseDbConnection(ctx)
		},
	})
	<-wait
}
