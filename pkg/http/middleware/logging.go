package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "assetsync/pkg/logger"
)

// RequestLogging logs each request to the operational HTTP surface
// (health/readyz/streams) at info level, one line per request, through the
// same structured logger the engine and runtime use.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)

			if l != nil {
				l.Info("http request",
					applogger.String("method", req.Method),
					applogger.String("path", req.RequestURI),
					applogger.String("remote_addr", req.RemoteAddr),
					applogger.Int("status", res.Status),
					applogger.Duration("latency", time.Since(start)),
				)
			}

			return err
		}
	}
}
