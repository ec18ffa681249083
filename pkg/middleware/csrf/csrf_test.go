package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho() *echo.Echo {
	return newEchoWith(Config{Guard: WithCookie("accessToken")})
}

func newEchoWith(cfg Config) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(cfg))
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.GET("/orders", ok)
	e.POST("/orders", ok)
	return e
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SkipsHeaderAuth(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("X-Guest-Token", "guest-0123456789abcdef")
	assert.Equal(t, http.StatusNoContent, serve(newEcho(), req).Code)
}

func TestMiddleware_CookieSessions(t *testing.T) {
	t.Parallel()
	e := newEcho()

	get := httptest.NewRequest(http.MethodGet, "/orders", nil)
	get.AddCookie(&http.Cookie{Name: "accessToken", Value: "jwt"})
	rec := serve(e, get)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	token := rec.Header().Get("X-CSRF-Token")
	assert.NotEmpty(t, token)

	post := func(header, origin string) int {
		req := httptest.NewRequest(http.MethodPost, "http://example.com/orders", nil)
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: "jwt"})
		req.AddCookie(&http.Cookie{Name: "XSRF-TOKEN", Value: token})
		req.Header.Set("Origin", origin)
		if header != "" {
			req.Header.Set("X-CSRF-Token", header)
		}
		return serve(e, req).Code
	}

	assert.Equal(t, http.StatusNoContent, post(token, "http://example.com"))
	assert.Equal(t, http.StatusForbidden, post("", "http://example.com"))
	assert.Equal(t, http.StatusForbidden, post("forged", "http://example.com"))
	assert.Equal(t, http.StatusForbidden, post(token, "http://evil.test"))
}

func TestMiddleware_GuardOnlyConfigIsStrict(t *testing.T) {
	t.Parallel()

	get := httptest.NewRequest(http.MethodGet, "/orders", nil)
	get.AddCookie(&http.Cookie{Name: "accessToken", Value: "jwt"})
	rec := serve(newEcho(), get)

	var xsrf *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "XSRF-TOKEN" {
			xsrf = c
		}
	}
	require.NotNil(t, xsrf)
	assert.True(t, xsrf.Secure)
	assert.Equal(t, http.SameSiteLaxMode, xsrf.SameSite)
}

func TestMiddleware_OptOuts(t *testing.T) {
	t.Parallel()

	e := newEchoWith(Config{Guard: WithCookie("accessToken"), Insecure: true, AllowCrossOrigin: true})

	get := httptest.NewRequest(http.MethodGet, "/orders", nil)
	get.AddCookie(&http.Cookie{Name: "accessToken", Value: "jwt"})
	rec := serve(e, get)
	token := rec.Header().Get("X-CSRF-Token")
	require.NotEmpty(t, token)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "XSRF-TOKEN" {
			assert.False(t, c.Secure)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/orders", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "jwt"})
	req.AddCookie(&http.Cookie{Name: "XSRF-TOKEN", Value: token})
	req.Header.Set("Origin", "http://other.test")
	req.Header.Set("X-CSRF-Token", token)
	assert.Equal(t, http.StatusNoContent, serve(e, req).Code)
}
