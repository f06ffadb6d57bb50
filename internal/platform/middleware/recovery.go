package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var panicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ilpi_http_panics_total",
	Help: "Handler panics turned into 500 responses, by route",
}, []string{"route"})

const maxStackBytes = 8 << 10

// Recovery turns a handler panic into a 500. The panic value and stack go to
// the log only.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				stack := debug.Stack()
				if len(stack) > maxStackBytes {
					stack = stack[:maxStackBytes]
				}
				rid, _ := c.Get("request_id").(string)
				tid, _ := c.Get("tenant_id").(string)
				route := c.Path()
				if route == "" {
					route = "unmatched"
				}
				panicsRecovered.WithLabelValues(route).Inc()

				logger.Error().
					Str("request_id", rid).
					Str("tenant_id", tid).
					Str("method", c.Request().Method).
					Str("route", route).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").
					SetInternal(fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
