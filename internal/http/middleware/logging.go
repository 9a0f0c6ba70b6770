// README: Request logging middleware.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"fleetdispatch/internal/logger"
)

// Logging writes one line per request; 5xx responses log at error level.
func Logging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if status >= 500 {
			log.Errorf("%s %s -> %d (%s) %s", c.Request.Method, route, status, time.Since(start), c.Errors.String())
			return
		}
		log.Debugw("request", map[string]any{
			"method":   c.Request.Method,
			"route":    route,
			"status":   status,
			"duration": time.Since(start).String(),
		})
	}
}
