package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// This middleware handles CORS policy for the Lantern dashboard API.
// An empty origin list allows every origin, which is only meant for local development.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed[trimmed] = true
		}
	}

	return func(gctx *gin.Context) {
		origin := gctx.GetHeader("Origin")
		switch {
		case len(allowed) == 0:
			gctx.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			gctx.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			gctx.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		gctx.Writer.Header().Set("Vary", "Origin")
		gctx.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Correlation-ID")
		gctx.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if gctx.Request.Method == http.MethodOptions {
			gctx.AbortWithStatus(http.StatusNoContent)
			return
		}

		gctx.Next()
	}
}
