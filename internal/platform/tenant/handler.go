package tenant

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/pkg/pagination"
)

// Lifecycle is the tenant administration the HTTP surface needs. *Service
// implements it.
type Lifecycle interface {
	Register(ctx context.Context, name, slug string) (*Tenant, error)
	Remove(ctx context.Context, tenantID uuid.UUID) error
	Get(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
}

// CreateRequest is the POST body.
type CreateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Handler struct {
	svc Lifecycle
}

func NewHandler(svc Lifecycle) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /tenants below api. Every route requires the admin
// role, and api must not carry the tenant middleware: these routes act on the
// directory, not on one tenant's records.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/tenants", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return apperror.Validation("invalid request body")
	}
	t, err := h.svc.Register(c.Request().Context(), req.Name, req.Slug)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid tenant id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg).WithLinks(c.Request().URL))
}

// Delete tears the tenant down through the serving process, so its cached
// handle and resolver entries go with it.
func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid tenant id")
	}
	if err := h.svc.Remove(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
