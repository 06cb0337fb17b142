package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/logger"
)

// RequestLogger logs each request after its handler completes. Requests
// that passed the auth middleware carry the resolved tenant and actor, so
// the access log can be filtered per tenant; unauthenticated routes
// (/health, /v1/init) simply log without them.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", latency.Milliseconds()),
			zap.Int("bytes", size),
		}
		if tenantID := auth.TenantIDFrom(c); tenantID != "" {
			fields = append(fields, zap.String("tenant_id", tenantID))
		}
		if actorID := auth.ActorAgentIDFrom(c); actorID != "" {
			fields = append(fields, zap.String("actor_agent_id", actorID))
		}

		switch {
		case status >= 500:
			log.Error("http", fields...)
		case status >= 400:
			log.Warn("http", fields...)
		default:
			log.Debug("http", fields...)
		}
	}
}
