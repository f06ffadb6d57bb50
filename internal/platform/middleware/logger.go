package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// quietRoutes are polled by probes and scrapers; successful hits log at debug.
var quietRoutes = map[string]bool{"/health": true, "/health/db": true, "/metrics": true}

func accessLevel(route string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case quietRoutes[route]:
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Logger writes one access line per request. A handler error is rendered here
// so the logged status is the one the client received, and is not passed on.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			rid, _ := c.Get("request_id").(string)
			tid, _ := c.Get("tenant_id").(string)

			evt := logger.WithLevel(accessLevel(c.Path(), res.Status))
			if err != nil {
				evt = evt.Err(err)
			}
			evt.Str("request_id", rid).
				Str("tenant_id", tid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}
