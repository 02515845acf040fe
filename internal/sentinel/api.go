// Exposes the health and memory ops REST APIs.

package sentinel

import (
	"Lantern/internal/errors"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Registers all of the REST API handlers related to internal package sentinel onto the gin server.
func APIHandlers(router gin.IRouter, s *Sentinel, version string) {
	router.GET("/api/health", health(s, version))
	opsGroup := router.Group("/api/ops")
	{
		opsGroup.GET("/memory", memoryStats(s))
		opsGroup.GET("/memory/trend", memoryTrend(s))
		opsGroup.GET("/memory/last-transition", lastTransition(s))
	}
}

// health always answers 200, pressure is reported but never fails the probe.
func health(s *Sentinel, version string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, gin.H{
			"status":             "ok",
			"version":            version,
			"time":               time.Now().UTC(),
			"pressureLevel":      s.Level(),
			"loadSheddingActive": s.LoadSheddingActive(),
		})
	}
}

func memoryStats(s *Sentinel) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, s.Stats())
	}
}

func memoryTrend(s *Sentinel) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, s.Trend())
	}
}

// lastTransition serves the persisted snapshot, which survives restarts.
func lastTransition(s *Sentinel) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		snapshot, ok, err := s.LastTransition(gctx.Request.Context())
		switch {
		case stderrors.Is(err, ErrNoRepository):
			resp := errors.NotFound(err.Error())
			gctx.JSON(resp.StatusCode(), resp)
		case err != nil:
			s.logger.WithCtx(gctx).Warn().Err(err).Msg("Couldn't read the last pressure snapshot")
			resp := errors.ServiceUnavailable("")
			gctx.JSON(resp.StatusCode(), resp)
		case !ok:
			resp := errors.NotFound("no pressure transition recorded yet")
			gctx.JSON(resp.StatusCode(), resp)
		default:
			gctx.JSON(http.StatusOK, snapshot)
		}
	}
}
