package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stratflow/internal/auth"
)

// WriteMiddleware records every state-changing /api/ call after it completes.
func WriteMiddleware(s Sink, logger *zap.Logger) gin.HandlerFunc {
	if s == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithSink(c.Request.Context(), s))
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}
		status := c.Writer.Status()
		RecordBestEffort(c.Request.Context(), logger, Event{
			Action: "settlement_http_write",
			Level:  LevelFromStatus(status),
			Actor:  auth.IdentityFrom(c),
			Details: map[string]any{
				"method":   method,
				"route":    c.FullPath(),
				"path":     path,
				"status":   status,
				"duration": time.Since(start).String(),
			},
		})
	}
}
