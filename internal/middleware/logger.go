package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reqID := c.GetString("request_id"); reqID != "" {
			c.Set("logger", logger.With("requestId", reqID))
		} else {
			c.Set("logger", logger)
		}
		c.Next()
	}
}
