// Exposes the ops REST API of the live updates channel.

package broadcast

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xeonx/timeago"
)

// Registers all of the REST API handlers related to internal package broadcast onto the gin server.
func APIHandlers(router gin.IRouter, server *Server) {
	opsGroup := router.Group("/api/ops")
	{
		opsGroup.GET("/live", liveStats(server))
	}
}

// liveStats returns a handler reporting connection and delivery counters.
func liveStats(server *Server) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		stats := server.Stats()
		if !stats.LastBroadcastAt.IsZero() {
			stats.LastBroadcastAgo = timeago.English.Format(stats.LastBroadcastAt)
		}
		gctx.JSON(http.StatusOK, stats)
	}
}
