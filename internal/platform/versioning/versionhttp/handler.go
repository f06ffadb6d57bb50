// Package versionhttp exposes a versioned entity over echo: create, read,
// list, patch, soft delete and the history surface.
package versionhttp

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/history"
	"github.com/ehr/ilpi/internal/platform/versioning"
	"github.com/ehr/ilpi/pkg/pagination"
)

// Service is the operation set the handlers need. *versioning.Engine
// implements it; domain services wrap the engine to add their own rules.
type Service[P any] interface {
	Create(ctx context.Context, input P, actorID uuid.UUID) (P, error)
	Update(ctx context.Context, id uuid.UUID, patch map[string]any, changeReason string, actorID uuid.UUID) (P, error)
	SoftDelete(ctx context.Context, id uuid.UUID, deleteReason string, actorID uuid.UUID) (P, error)
	Get(ctx context.Context, id uuid.UUID) (P, error)
	List(ctx context.Context, limit, offset int) ([]P, int, error)
	History(ctx context.Context, id uuid.UUID, limit, offset int) (*versioning.HistoryView, error)
	HistoryVersion(ctx context.Context, id uuid.UUID, version int) (*versioning.HistoryEntry, error)
	Verify(ctx context.Context, id uuid.UUID) (history.Verification, error)
	View(entity P) (map[string]any, error)
}

type Config struct {
	// Path is the collection path below the group, e.g. "/residents".
	Path       string
	ReadRoles  []string
	WriteRoles []string
}

// UpdateRequest is the PATCH body.
type UpdateRequest struct {
	Changes      map[string]any `json:"changes"`
	ChangeReason string         `json:"changeReason"`
}

// DeleteRequest is the DELETE body.
type DeleteRequest struct {
	DeleteReason string `json:"deleteReason"`
}

type Handler[E any, P versioning.EntityPtr[E]] struct {
	svc Service[P]
	cfg Config
}

func NewHandler[E any, P versioning.EntityPtr[E]](svc Service[P], cfg Config) *Handler[E, P] {
	return &Handler[E, P]{svc: svc, cfg: cfg}
}

func (h *Handler[E, P]) RegisterRoutes(api *echo.Group) {
	g := api.Group(h.cfg.Path)
	read := auth.RequireRole(h.cfg.ReadRoles...)
	write := auth.RequireRole(h.cfg.WriteRoles...)

	g.GET("", h.List, read)
	g.GET("/:id", h.Get, read)
	g.GET("/:id/history", h.History, read)
	g.GET("/:id/history/verify", h.Verify, read)
	g.GET("/:id/history/:version", h.HistoryVersion, read)

	g.POST("", h.Create, write)
	g.PATCH("/:id", h.Update, write)
	g.DELETE("/:id", h.Delete, write)
}

func (h *Handler[E, P]) Create(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	input := P(new(E))
	if err := (&echo.DefaultBinder{}).BindBody(c, input); err != nil {
		return apperror.Validation("invalid request body")
	}
	created, err := h.svc.Create(c.Request().Context(), input, actor)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusCreated, created)
}

func (h *Handler[E, P]) Get(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	entity, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, entity)
}

func (h *Handler[E, P]) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		v, err := h.svc.View(item)
		if err != nil {
			return err
		}
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(views, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler[E, P]) Update(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return apperror.Validation("invalid request body")
	}
	updated, err := h.svc.Update(c.Request().Context(), id, req.Changes, req.ChangeReason, actor)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, updated)
}

func (h *Handler[E, P]) Delete(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req DeleteRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return apperror.Validation("invalid request body")
	}
	deleted, err := h.svc.SoftDelete(c.Request().Context(), id, req.DeleteReason, actor)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, deleted)
}

func (h *Handler[E, P]) History(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	view, err := h.svc.History(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler[E, P]) HistoryVersion(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return apperror.Validation("version must be an integer")
	}
	entry, err := h.svc.HistoryVersion(c.Request().Context(), id, version)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler[E, P]) Verify(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler[E, P]) render(c echo.Context, status int, entity P) error {
	v, err := h.svc.View(entity)
	if err != nil {
		return err
	}
	return c.JSON(status, v)
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid id")
	}
	return id, nil
}

func actorOf(c echo.Context) (uuid.UUID, error) {
	id := auth.UserIDFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}
