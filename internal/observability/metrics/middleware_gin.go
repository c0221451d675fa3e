package metrics

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware records per-route request counts, durations, and in-flight
// gauge movement. Routes without a matched handler report as "unknown" so
// scans cannot explode label cardinality.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		m.IncInFlight()

		c.Next()

		m.DecInFlight()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.Record(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
