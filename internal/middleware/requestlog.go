package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgw_go/internal/httputil"
)

const requestIDHeader = "X-Request-ID"

// RequestLog присваивает запросу идентификатор и пишет строку access-лога.
func RequestLog(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("HTTP")
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(httputil.RequestIDKey, id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		}
		if accountID := c.Query("account_id"); accountID != "" {
			fields = append(fields, zap.String("account_id", accountID))
		}
		logger.Info("запрос", fields...)
	}
}
