package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger assigns a request id, attaches a request scoped logger to the
// request context and logs completion.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	if base == nil {
		base = zap.NewNop()
	}
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = ulid.Make().String()
		}
		c.Header(requestIDHeader, requestID)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger := base.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
		)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), logger))

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

// Recovery turns a panic into a 500 envelope and logs it.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logging.FromContext(c.Request.Context()).Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{Success: false, Message: internalErrorMessage})
	})
}
