package middleware

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
)

// Logger 使用 zap 记录请求日志
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			if stack := errorStack(c); stack != "" {
				fields = append(fields, zap.String("stack", stack))
			}
			log.Error("请求失败", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("请求被拒绝", fields...)
		default:
			log.Debug("请求完成", fields...)
		}
	}
}

// errorStack 取最后一个带调用栈的 AppError
func errorStack(c *gin.Context) string {
	for i := len(c.Errors) - 1; i >= 0; i-- {
		var appErr *apperrors.AppError
		if errors.As(c.Errors[i].Err, &appErr) {
			return appErr.GetStack()
		}
	}
	return ""
}
