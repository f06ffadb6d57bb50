package middleware

import (
	"github.com/labstack/echo/v4"
)

type header struct{ name, value string }

// apiHeaders apply to every response. Every body this server writes is JSON
// that may carry resident data, so nothing is framed, sniffed or cached.
var apiHeaders = []header{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

var hstsHeader = header{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"}

// SecurityHeaders writes apiHeaders before the handler runs, so error
// responses carry them too. HSTS is added only when hsts is set.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	headers := apiHeaders
	if hsts {
		headers = append(append([]header{}, apiHeaders...), hstsHeader)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, hd := range headers {
				h.Set(hd.name, hd.value)
			}
			return next(c)
		}
	}
}
