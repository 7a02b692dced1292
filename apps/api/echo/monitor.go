package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roxnlabs/mentora/services/monitor"
)

func registerMonitorAPI(e *echo.Echo, health *monitor.HealthChecker, status *monitor.StatusReporter, metrics *monitor.Metrics) {
	if health != nil {
		e.GET("/health", func(ctx echo.Context) error {
			report := health.Run(ctx.Request().Context())
			code := http.StatusOK
			if report.Status == monitor.StatusDown {
				code = http.StatusServiceUnavailable
			}
			return ctx.JSON(code, report)
		})
	}
	if status != nil {
		e.GET("/status", func(ctx echo.Context) error {
			return ctx.JSON(http.StatusOK, status.Report())
		})
	}
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
}
