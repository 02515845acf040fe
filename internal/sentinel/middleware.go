// Load shedding middleware, the admission control side of the sentinel.

package sentinel

import (
	"Lantern/internal/errors"
	"Lantern/pkg/log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ShedOptions selects which requests are rejected while load shedding is active.
type ShedOptions struct {
	// HeavyPrefixes are rejected with 503 under pressure.
	HeavyPrefixes []string
	// ExemptPrefixes always pass, checked before HeavyPrefixes.
	ExemptPrefixes []string
	// RetryAfter is advertised to rejected callers, defaults to 30s.
	RetryAfter time.Duration
}

// LoadShedding rejects heavy requests with a retryable 503 while the sentinel sheds load.
// Everything else passes untouched.
func LoadShedding(s *Sentinel, opts ShedOptions, logger log.Logger) gin.HandlerFunc {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 30 * time.Second
	}
	retryAfter := strconv.Itoa(errors.MemoryPressure(opts.RetryAfter, 0).RetryAfterSeconds)

	return func(gctx *gin.Context) {
		path := gctx.Request.URL.Path
		if !s.LoadSheddingActive() || matchPrefix(path, opts.ExemptPrefixes) != "" {
			gctx.Next()
			return
		}
		prefix := matchPrefix(path, opts.HeavyPrefixes)
		if prefix == "" {
			gctx.Next()
			return
		}

		pct := s.HeapUsedPercent()
		s.metrics.ShedRequests.WithLabelValues(prefix).Inc()
		logger.WithCtx(gctx).Warn().Str("path", path).Float64("heap_used_percent", pct).Msg("Request shed under memory pressure")
		gctx.Header("Retry-After", retryAfter)
		gctx.AbortWithStatusJSON(http.StatusServiceUnavailable, errors.MemoryPressure(opts.RetryAfter, pct))
	}
}

// Returns the first prefix path falls under, "" when none does. A trailing slash on a prefix is ignored.
func matchPrefix(path string, prefixes []string) string {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		base := strings.TrimSuffix(prefix, "/")
		if path == base || strings.HasPrefix(path, base+"/") {
			return prefix
		}
	}
	return ""
}
