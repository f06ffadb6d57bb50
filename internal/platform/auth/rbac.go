package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

// Facility roles.
const (
	RoleAdmin     = "admin"
	RoleNurse     = "nurse"
	RoleCaregiver = "caregiver"
	RolePhysician = "physician"
)

// HasAnyRole reports whether the caller holds one of roles. Admins hold every
// role.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	held := RolesFromContext(ctx)
	if slices.Contains(held, RoleAdmin) {
		return true
	}
	return slices.ContainsFunc(roles, func(r string) bool { return slices.Contains(held, r) })
}

// RequireRole rejects callers that hold none of roles with a Forbidden error.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	want := strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasAnyRole(c.Request().Context(), roles...) {
				return apperror.Forbidden("requires role %s", want)
			}
			return next(c)
		}
	}
}
