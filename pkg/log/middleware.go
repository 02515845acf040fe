// This middleware is used to integrate the zerolog extension created in logger.go into gin server.

package log

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Primary use-case of this middleware is to force gin to use zerolog functionality instead of the default one.
// Requests are logged after the handler chain has completed so the final status is known.
func LoggerGinExtension(logger Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		start := time.Now() // Start timer
		path := gctx.Request.URL.Path
		raw := gctx.Request.URL.RawQuery

		// Process request
		gctx.Next()

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		}
		if raw != "" {
			path = path + "?" + raw
		}

		status := gctx.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.WithCtx(gctx).Error()
		case status >= 400:
			event = logger.WithCtx(gctx).Warn()
		default:
			event = logger.WithCtx(gctx).Info()
		}

		event.
			Str("client_ip", gctx.ClientIP()).
			Str("method", gctx.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Int("body_size", gctx.Writer.Size()).
			Str("error", gctx.Errors.ByType(gin.ErrorTypePrivate).String()).
			Msg("request handled")
	}
}
