package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSecurityHeaders(t *testing.T, hsts bool, h echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/residents", nil)
	rec := httptest.NewRecorder()
	err := SecurityHeaders(hsts)(h)(echo.New().NewContext(req, rec))
	return rec, err
}

func TestSecurityHeaders_Production(t *testing.T) {
	rec, err := runSecurityHeaders(t, true, okHandler)
	require.NoError(t, err)

	for _, hd := range apiHeaders {
		assert.Equal(t, hd.value, rec.Header().Get(hd.name), hd.name)
	}
	assert.Equal(t, hstsHeader.value, rec.Header().Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_Development(t *testing.T) {
	rec, err := runSecurityHeaders(t, false, okHandler)
	require.NoError(t, err)

	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestSecurityHeaders_SetOnErrorResponses(t *testing.T) {
	failing := func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) }
	rec, err := runSecurityHeaders(t, true, failing)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSecurityHeaders_HSTSDoesNotLeakIntoShared(t *testing.T) {
	_, _ = runSecurityHeaders(t, true, okHandler)
	rec, _ := runSecurityHeaders(t, false, okHandler)
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Len(t, apiHeaders, 6)
}
