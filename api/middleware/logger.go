package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/metacubex/mihomo/log"
)

// Logger 访问日志中间件，websocket与metrics只记debug
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path

		format := "[GIN] %3d | %13v | %15s | %-7s %s"
		args := []any{statusCode, latency, c.ClientIP(), c.Request.Method, c.Request.RequestURI}
		switch {
		case statusCode >= 500:
			log.Errorln(format, args...)
		case statusCode >= 400:
			log.Warnln(format, args...)
		case path == "/ws" || path == "/metrics":
			log.Debugln(format, args...)
		default:
			log.Infoln(format, args...)
		}
	}
}
