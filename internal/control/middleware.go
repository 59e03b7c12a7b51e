package control

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestID propagates or assigns X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetHeader("X-Request-ID") == "" {
			ctx.Request.Header.Set("X-Request-ID", uuid.NewString())
		}
		ctx.Header("X-Request-ID", ctx.GetHeader("X-Request-ID"))
		ctx.Next()
	}
}

// AccessLog logs one line per request at debug level.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Debug("control: request",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"duration", time.Since(start),
			"request_id", ctx.GetHeader("X-Request-ID"),
		)
	}
}
