package middleware

import (
	"time"

	"echocommand/internal/logging"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// アクセスログ。RequestIDの後に置く
func RequestLogger(log *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			entry := log.WithFields(logrus.Fields{
				"request_id": rid,
				"method":     req.Method,
				"path":       req.URL.Path,
			})
			c.SetRequest(req.WithContext(logging.WithEntry(req.Context(), entry)))

			err := next(c)
			if err != nil {
				// ステータスを確定させる
				c.Error(err)
			}

			fields := logrus.Fields{
				"status":     c.Response().Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"remote_ip":  c.RealIP(),
			}
			if u := Username(c); u != "" {
				fields["username"] = u
			}

			e := entry.WithFields(fields)
			switch {
			case c.Response().Status >= 500:
				e.Error("request failed")
			case c.Response().Status >= 400:
				e.Warn("request rejected")
			default:
				e.Info("request handled")
			}
			return nil
		}
	}
}
