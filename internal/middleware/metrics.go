package middleware

import (
	"strconv"
	"time"

	"echocommand/internal/metrics"

	"github.com/labstack/echo/v4"
)

// ルートのテンプレート単位でリクエスト数と時間を記録
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.IncInFlight()
			defer m.DecInFlight()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, path, strconv.Itoa(c.Response().Status), time.Since(start))
			return nil
		}
	}
}
