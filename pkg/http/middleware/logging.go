package middleware

import (
	"time"

	"HistPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each request at debug level, and 5xx replies at error level.
func RequestLogging(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", req.RemoteAddr),
				logger.Int("status", status),
				logger.Duration("latency", time.Since(start)),
			}
			if status >= 500 {
				log.Error("http request failed", fields...)
			} else {
				log.Debug("http request", fields...)
			}
			return err
		}
	}
}
