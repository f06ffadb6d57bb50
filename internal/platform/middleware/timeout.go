package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ilpi_http_request_timeouts_total",
	Help: "Requests answered with 504 after their deadline passed.",
}, []string{"route"})

// RequestTimeout bounds each request context. Queries issued with it are
// cancelled by pgx at the deadline, and the handler's error is then reported
// as 504. A handler that finished in time keeps its own error.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			requestTimeouts.WithLabelValues(c.Path()).Inc()
			return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded "+timeout.String()).SetInternal(err)
		}
	}
}
