package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/restaurant/pkg/authclient"
	"github.com/Skotchmaster/restaurant/pkg/tokens"
)

var secret = []byte("test-secret")

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"user":  c.Get(CtxUserID),
		"role":  c.Get(CtxRole),
		"guest": c.Get(CtxGuestToken),
	})
}

func token(t *testing.T, sub, role string, ttl time.Duration) string {
	t.Helper()
	s, _, err := tokens.NewAccessToken(sub, role, secret, ttl)
	require.NoError(t, err)
	return s
}

func serve(h echo.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, h(c)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestRequireAuth_UserAndGuest(t *testing.T) {
	t.Parallel()
	m := NewAuthMiddleware(secret, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "u-1", "user", time.Minute))
	rec, err := serve(m.RequireAuth(whoami), req)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), `"user":"u-1"`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GuestHeader, "guest-0123456789abcdef")
	rec, err = serve(m.RequireAuth(whoami), req)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), `"guest":"guest-0123456789abcdef"`)

	req = httptest.NewRequest(http.MethodGet, "/ws?guest_token=guest-0123456789abcdef", nil)
	_, err = serve(m.RequireAuth(whoami), req)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GuestHeader, "short")
	_, err = serve(m.RequireAuth(whoami), req)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	_, err = serve(m.RequireAuth(whoami), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestRequireAuth_BadTokenDoesNotFallBackToGuest(t *testing.T) {
	t.Parallel()
	m := NewAuthMiddleware(secret, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	req.Header.Set(GuestHeader, "guest-0123456789abcdef")
	_, err := serve(m.RequireAuth(whoami), req)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestRequireRole(t *testing.T) {
	t.Parallel()
	m := NewAuthMiddleware(secret, nil)
	h := m.RequireRole("admin", "kitchen")(whoami)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "k-1", "kitchen", time.Minute))
	_, err := serve(h, req)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "u-1", "user", time.Minute))
	_, err = serve(h, req)
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "k-1", "kitchen", time.Minute))
	_, err = serve(m.RequireAdmin(whoami), req)
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))
}

func TestRequireUser_RefreshesExpiredCookie(t *testing.T) {
	t.Parallel()

	fresh := token(t, "u-9", "user", time.Hour)
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(authclient.RefreshResponse{
			AccessToken:  fresh,
			RefreshToken: "r2",
			AccessExp:    time.Now().Add(time.Hour).Unix(),
			RefreshExp:   time.Now().Add(24 * time.Hour).Unix(),
		})
	}))
	t.Cleanup(authSrv.Close)

	client, err := authclient.NewClient(authSrv.URL)
	require.NoError(t, err)
	m := NewAuthMiddleware(secret, client)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: tokens.AccessCookie, Value: token(t, "u-9", "user", -time.Minute)})
	req.AddCookie(&http.Cookie{Name: tokens.RefreshCookie, Value: "r1"})
	rec, err := serve(m.RequireUser(whoami), req)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), `"user":"u-9"`)
	assert.True(t, strings.Contains(strings.Join(rec.Header().Values("Set-Cookie"), ";"), "refreshToken=r2"))
}
