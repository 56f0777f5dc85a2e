package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"EpiCast/pkg/logger"
)

// RequestLogging logs each request once the error handler has written the
// response. Server errors log at warn, client errors at info, the rest at debug.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", c.Path()),
				logger.String("uri", c.Request().RequestURI),
				logger.String("remote", c.RealIP()),
				logger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				logger.Int("status", status),
				logger.Int64("bytes", c.Response().Size),
				logger.Duration("took", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Warn("http request", fields...)
			case status >= 400:
				l.Info("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
