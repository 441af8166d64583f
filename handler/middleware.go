package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"persona-chat/internal/logger"
	"persona-chat/internal/session"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	ctxCorrelationID    = "correlation_id"
)

// CorrelationID echoes the caller's X-Correlation-Id or generates one.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerCorrelationID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxCorrelationID, id)
		c.Writer.Header().Set(headerCorrelationID, id)
		c.Next()
	}
}

func correlationID(c *gin.Context) string {
	return c.GetString(ctxCorrelationID)
}

// RequestLogger writes one line per request once the handler chain returns.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", correlationID(c),
		}
		if id, ok := session.FromContext(c.Request.Context()); ok {
			fields = append(fields, "user_id", id.UserID, "guest", id.Guest)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
