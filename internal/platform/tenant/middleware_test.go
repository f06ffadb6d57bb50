package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/db"
)

type staticResolver map[uuid.UUID]string

func (r staticResolver) Resolve(_ context.Context, id uuid.UUID) (string, error) {
	ns, ok := r[id]
	if !ok {
		return "", apperror.NotFound("tenant %s not found", id)
	}
	return ns, nil
}

type stubHandle struct{ namespace string }

func (h *stubHandle) Namespace() string    { return h.namespace }
func (h *stubHandle) Querier() db.Querier { return nil }
func (h *stubHandle) InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	return fn(ctx, nil)
}
func (h *stubHandle) Close() {}

type stubHandles map[string]*stubHandle

func (s stubHandles) Handle(_ context.Context, namespace string) (db.Handle, error) {
	h, ok := s[namespace]
	if !ok {
		h = &stubHandle{namespace: namespace}
		s[namespace] = h
	}
	return h, nil
}

func runMiddleware(t *testing.T, resolver NamespaceResolver, handles HandleProvider, setup func(c echo.Context, req *http.Request)) (db.Handle, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/residents", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	setup(c, req)

	var got db.Handle
	err := Middleware(resolver, handles)(func(c echo.Context) error {
		got = db.HandleFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)
	return got, err
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	tenantA, tenantB := uuid.New(), uuid.New()
	resolver := staticResolver{tenantA: "tenant_a_000001", tenantB: "tenant_b_000002"}

	t.Run("header routes to namespace", func(t *testing.T) {
		t.Parallel()
		h, err := runMiddleware(t, resolver, stubHandles{}, func(_ echo.Context, req *http.Request) {
			req.Header.Set(TenantHeader, tenantA.String())
		})
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, "tenant_a_000001", h.Namespace())
	})

	t.Run("token claim routes without header", func(t *testing.T) {
		t.Parallel()
		h, err := runMiddleware(t, resolver, stubHandles{}, func(c echo.Context, _ *http.Request) {
			c.Set(auth.TenantClaimKey, tenantB.String())
		})
		require.NoError(t, err)
		assert.Equal(t, "tenant_b_000002", h.Namespace())
	})

	t.Run("header matching the claim is accepted", func(t *testing.T) {
		t.Parallel()
		h, err := runMiddleware(t, resolver, stubHandles{}, func(c echo.Context, req *http.Request) {
			req.Header.Set(TenantHeader, strings.ToUpper(tenantB.String()))
			c.Set(auth.TenantClaimKey, tenantB.String())
		})
		require.NoError(t, err)
		assert.Equal(t, "tenant_b_000002", h.Namespace())
	})

	t.Run("header naming another tenant is forbidden", func(t *testing.T) {
		t.Parallel()
		h, err := runMiddleware(t, resolver, stubHandles{}, func(c echo.Context, req *http.Request) {
			req.Header.Set(TenantHeader, tenantA.String())
			c.Set(auth.TenantClaimKey, tenantB.String())
		})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
		assert.Nil(t, h)
	})

	t.Run("token without tenant claim is forbidden", func(t *testing.T) {
		t.Parallel()
		h, err := runMiddleware(t, resolver, stubHandles{}, func(c echo.Context, req *http.Request) {
			req.Header.Set(TenantHeader, tenantA.String())
			c.Set(auth.TenantClaimKey, "")
		})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
		assert.Nil(t, h)
	})

	t.Run("missing tenant is a bad request", func(t *testing.T) {
		t.Parallel()
		_, err := runMiddleware(t, resolver, stubHandles{}, func(echo.Context, *http.Request) {})
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})

	t.Run("malformed tenant id is a validation error", func(t *testing.T) {
		t.Parallel()
		_, err := runMiddleware(t, resolver, stubHandles{}, func(_ echo.Context, req *http.Request) {
			req.Header.Set(TenantHeader, "default")
		})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("unknown tenant is not found", func(t *testing.T) {
		t.Parallel()
		_, err := runMiddleware(t, resolver, stubHandles{}, func(_ echo.Context, req *http.Request) {
			req.Header.Set(TenantHeader, uuid.NewString())
		})
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})
}

func signedToken(t *testing.T, key []byte, tenantID string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
		Roles:    []string{auth.RoleNurse},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

// The header must never move a token holder into a tenant the token was not
// issued for.
func TestMiddleware_BehindJWT(t *testing.T) {
	t.Parallel()
	key := []byte("tenant-test-key")
	home, victim := uuid.New(), uuid.New()
	resolver := staticResolver{home: "tenant_home_aaaaaa", victim: "tenant_victim_abc123"}

	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		switch {
		case errors.Is(err, apperror.ErrForbidden):
			_ = c.NoContent(http.StatusForbidden)
		default:
			e.DefaultHTTPErrorHandler(err, c)
		}
	}
	var routed string
	e.GET("/api/v1/residents", func(c echo.Context) error {
		routed = db.HandleFromContext(c.Request().Context()).Namespace()
		return c.NoContent(http.StatusOK)
	}, auth.JWTMiddleware(auth.JWTConfig{SigningKey: key}), Middleware(resolver, stubHandles{}))

	tests := []struct {
		name      string
		claim     string
		header    string
		want      int
		namespace string
	}{
		{"claim only", home.String(), "", http.StatusOK, "tenant_home_aaaaaa"},
		{"no claim with header", "", victim.String(), http.StatusForbidden, ""},
		{"no claim no header", "", "", http.StatusForbidden, ""},
		{"claim with foreign header", home.String(), victim.String(), http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routed = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/residents", nil)
			req.Header.Set("Authorization", "Bearer "+signedToken(t, key, tt.claim))
			if tt.header != "" {
				req.Header.Set(TenantHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.namespace, routed)
		})
	}
}
