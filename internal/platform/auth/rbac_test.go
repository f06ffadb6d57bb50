package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name string
		held []string
		want []string
		ok   bool
	}{
		{"match", []string{RolePhysician}, []string{RolePhysician, RoleNurse}, true},
		{"no match", []string{RoleCaregiver}, []string{RolePhysician, RoleNurse}, false},
		{"admin holds every role", []string{RoleAdmin}, []string{RolePhysician}, true},
		{"no roles", nil, []string{RoleNurse}, false},
		{"nothing required", []string{RoleNurse}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithUser(context.Background(), uuid.New(), tt.held...)
			assert.Equal(t, tt.ok, HasAnyRole(ctx, tt.want...))
		})
	}
}

func TestRequireRole(t *testing.T) {
	run := func(roles ...string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", nil)
		req = req.WithContext(WithUser(req.Context(), uuid.New(), roles...))
		rec := httptest.NewRecorder()
		err := RequireRole(RolePhysician)(func(c echo.Context) error {
			return c.NoContent(http.StatusCreated)
		})(echo.New().NewContext(req, rec))
		return rec, err
	}

	rec, err := run(RolePhysician)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)

	_, err = run(RoleCaregiver)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	assert.ErrorContains(t, err, "requires role physician")
}

func TestUserIDFromContext(t *testing.T) {
	id := uuid.New()
	ctx := WithUser(context.Background(), id, RoleCaregiver)
	assert.Equal(t, id, UserIDFromContext(ctx))
	assert.Equal(t, []string{RoleCaregiver}, RolesFromContext(ctx))
	assert.Equal(t, uuid.Nil, UserIDFromContext(context.Background()))
}
