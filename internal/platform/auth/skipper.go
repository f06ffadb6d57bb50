package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// infraPaths are served without a token or tenant.
var infraPaths = []string{"/health", "/health/db", "/metrics"}

// AuthSkipper lets infrastructure endpoints through. The matched route is
// preferred; before routing (or on a 404) the raw URL path is used, with any
// trailing slash ignored.
func AuthSkipper(c echo.Context) bool {
	path := c.Path()
	if path == "" {
		path = c.Request().URL.Path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	for _, p := range infraPaths {
		if p == path {
			return true
		}
	}
	return false
}
