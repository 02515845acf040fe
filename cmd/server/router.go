// List of all REST API endpoints being used by Lantern can be found here.

package main

import (
	"Lantern/internal/broadcast"
	"Lantern/internal/config"
	"Lantern/internal/sentinel"
	"Lantern/internal/session"
	"Lantern/internal/workers"
	"Lantern/pkg/db"
	"Lantern/pkg/log"
	"Lantern/pkg/metrics"
	"Lantern/pkg/middlewares"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// application carries the long lived components wired by build.
type application struct {
	live       *broadcast.Server
	sentinel   *sentinel.Sentinel
	controller *workers.Controller
	pool       *workers.Pool
}

func build(cfg *config.Config, dbwrp *db.RedisDB, reg prometheus.Registerer, logger log.Logger) *application {
	var validator session.Validator
	if cfg.SessionSecret != "" {
		repo := session.NewBreakerRepository(session.NewRepository(dbwrp), session.BreakerOptions{
			Failures: cfg.SessionBreakerFailures,
			OpenFor:  cfg.SessionBreakerOpenFor,
		}, logger)
		validator = session.NewValidator(repo, session.Options{
			CookieName: cfg.SessionCookieName,
			Secret:     cfg.SessionSecret,
		}, logger)
	}

	live := broadcast.NewServer(broadcast.Options{
		Path:                  cfg.LivePath,
		AuthRequired:          cfg.AuthRequired,
		RejectUnauthenticated: cfg.RejectUnauthenticated,
		Throttle:              cfg.BroadcastThrottle,
		SessionRecheck:        cfg.SessionRecheckInterval,
		IdleTimeout:           cfg.IdleTimeout,
		SweepInterval:         cfg.SweepInterval,
		PingInterval:          cfg.PingInterval,
		BookkeepingTTL:        cfg.BookkeepingTTL,
		AllowedOrigins:        cfg.AllowedWebSocketOrigins,
		UpgradeRate:           cfg.UpgradeRate,
		UpgradeBurst:          cfg.UpgradeBurst,
	}, validator, reg, logger)

	// Task kernels register themselves on the mux, unknown types answer 404
	controller := workers.NewController(logger)
	pool := workers.NewPool(workers.NewMux(), workers.PoolOptions{
		Concurrency: cfg.WorkerConcurrency,
		HeavyTypes:  cfg.HeavyTaskTypes,
	}, reg, logger)
	controller.Register(pool)

	s := sentinel.New(sentinel.Options{
		CeilingBytes: cfg.MemoryCeilingBytes(),
		Interval:     cfg.MemorySampleInterval,
		Evictor:      sentinel.NewRedisEvictor(dbwrp, cfg.CacheKeyPattern, cfg.CacheEvictBatch),
		Workers:      controller,
		Repository:   sentinel.NewRepository(dbwrp),
	}, reg, logger)

	return &application{live: live, sentinel: s, controller: controller, pool: pool}
}

func Router(router *gin.Engine, cfg *config.Config, app *application, reg *prometheus.Registry, logger log.Logger) {
	// Forcing gin to use custom Logger instead of the default one.
	router.Use(middlewares.UniqueIDMiddleware(logger))
	router.Use(middlewares.CorrelationMiddleware())
	router.Use(log.LoggerGinExtension(logger))
	router.Use(gin.Recovery())
	router.Use(middlewares.CORSMiddleware(cfg.AllowedOrigins))
	router.Use(sentinel.LoadShedding(app.sentinel, sentinel.ShedOptions{
		HeavyPrefixes:  cfg.HeavyPaths,
		ExemptPrefixes: cfg.ExemptPaths,
		RetryAfter:     cfg.RetryAfter,
	}, logger))

	// This is the route to default path
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to Lantern!")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	app.live.Initialize(router)
	broadcast.APIHandlers(router, app.live)
	sentinel.APIHandlers(router, app.sentinel, Version)
	workers.APIHandlers(router, app.pool, app.controller, cfg.HeavyTaskTypes, logger)
}
