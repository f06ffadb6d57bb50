package tenant

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/db"
)

const TenantHeader = "X-Tenant-ID"

// NamespaceResolver is implemented by *Resolver.
type NamespaceResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// HandleProvider is implemented by *db.Router.
type HandleProvider interface {
	Handle(ctx context.Context, namespace string) (db.Handle, error)
}

// Middleware routes each request to its tenant's namespace and puts the
// namespace handle on the request context.
func Middleware(resolver NamespaceResolver, handles HandleProvider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := extractTenantID(c)
			if err != nil {
				return err
			}
			if raw == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "tenant id is required")
			}
			tenantID, err := uuid.Parse(raw)
			if err != nil {
				return apperror.Validation("invalid tenant id %q", raw)
			}

			ctx := c.Request().Context()
			namespace, err := resolver.Resolve(ctx, tenantID)
			if err != nil {
				return err
			}
			h, err := handles.Handle(ctx, namespace)
			if err != nil {
				return err
			}

			ctx = db.WithTenantID(ctx, tenantID.String())
			ctx = db.WithHandle(ctx, h)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID.String())
			return next(c)
		}
	}
}

// extractTenantID returns the tenant the request acts for. A token-bound
// request is pinned to its tenant_id claim: a token without one, or an
// X-Tenant-ID header naming another tenant, is Forbidden. Only requests that
// carry no token at all (the development bypass) are routed by the header.
func extractTenantID(c echo.Context) (string, error) {
	header := c.Request().Header.Get(TenantHeader)
	claim, tokenBound := c.Get(auth.TenantClaimKey).(string)
	if !tokenBound {
		return header, nil
	}
	if claim == "" {
		return "", apperror.Forbidden("token is not bound to a tenant")
	}
	if header != "" && !sameTenant(header, claim) {
		return "", apperror.Forbidden("%s does not match the token's tenant", TenantHeader)
	}
	return claim, nil
}

func sameTenant(a, b string) bool {
	ida, errA := uuid.Parse(a)
	idb, errB := uuid.Parse(b)
	return errA == nil && errB == nil && ida == idb
}
