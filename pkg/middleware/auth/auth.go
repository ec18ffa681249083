package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/restaurant/pkg/authclient"
	"github.com/Skotchmaster/restaurant/pkg/logging"
	"github.com/Skotchmaster/restaurant/pkg/tokens"
)

// Keys set on the echo context for downstream handlers.
const (
	CtxUserID     = "user_id"
	CtxRole       = "role"
	CtxGuestToken = "guest_token"
)

const (
	GuestHeader     = "X-Guest-Token"
	guestQueryParam = "guest_token"
	minGuestToken   = 16
	maxGuestToken   = 256
)

type AuthMiddleware struct {
	JWTSecret []byte
	// AuthClient refreshes expired cookie sessions. Nil disables refresh.
	AuthClient *authclient.Client
}

func NewAuthMiddleware(secret []byte, authClient *authclient.Client) *AuthMiddleware {
	return &AuthMiddleware{JWTSecret: secret, AuthClient: authClient}
}

type ValidatorFunc func(claims *tokens.AccessClaims) error

// RequireAuth admits a signed-in user or a guest session. A guest presents
// its token in the X-Guest-Token header, or as ?guest_token= where headers
// cannot be set.
func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if bearer(c) == "" && cookieValue(c, tokens.AccessCookie) == "" {
			tok := c.Request().Header.Get(GuestHeader)
			if tok == "" {
				tok = c.QueryParam(guestQueryParam)
			}
			tok = strings.TrimSpace(tok)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}
			if len(tok) < minGuestToken || len(tok) > maxGuestToken {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid guest token")
			}
			c.Set(CtxGuestToken, tok)
			return next(c)
		}
		return m.requireUser(next, nil)(c)
	}
}

func (m *AuthMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return m.requireUser(next, nil)
}

// RequireRole admits users whose role is one of roles.
func (m *AuthMiddleware) RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return m.requireUser(next, func(claims *tokens.AccessClaims) error {
			if !slices.Contains(roles, claims.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "staff access required")
			}
			return nil
		})
	}
}

func (m *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.requireUser(next, func(claims *tokens.AccessClaims) error {
		if claims.Role != "admin" {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		return nil
	})
}

func (m *AuthMiddleware) requireUser(next echo.HandlerFunc, validator ValidatorFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		l := logging.FromContext(c.Request().Context()).With("mw", "auth")

		raw, fromCookie := bearer(c), false
		if raw == "" {
			raw, fromCookie = cookieValue(c, tokens.AccessCookie), true
		}
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}

		claims, err := tokens.AccessClaimsFromToken(raw, m.JWTSecret)
		if err != nil {
			if !fromCookie || !errors.Is(err, jwt.ErrTokenExpired) || m.AuthClient == nil {
				l.Info("access_token_rejected", "error", err)
				if fromCookie {
					clearAuthCookies(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}
			claims, err = m.refresh(c, raw)
			if err != nil {
				l.Info("token_refresh_failed", "error", err)
				clearAuthCookies(c)
				return echo.NewHTTPError(http.StatusUnauthorized, "refresh failed")
			}
		}

		if validator != nil {
			if err := validator(claims); err != nil {
				return err
			}
		}
		c.Set(CtxUserID, claims.Subject)
		c.Set(CtxRole, claims.Role)
		return next(c)
	}
}

func (m *AuthMiddleware) refresh(c echo.Context, access string) (*tokens.AccessClaims, error) {
	refreshToken := cookieValue(c, tokens.RefreshCookie)
	if refreshToken == "" {
		return nil, errors.New("refresh token missing")
	}

	res, err := m.AuthClient.RefreshTokens(c.Request().Context(), refreshToken, access)
	if err != nil {
		return nil, err
	}
	claims, err := tokens.AccessClaimsFromToken(res.AccessToken, m.JWTSecret)
	if err != nil {
		return nil, err
	}

	c.SetCookie(tokens.CreateCookie(tokens.AccessCookie, res.AccessToken, "/", time.Unix(res.AccessExp, 0)))
	c.SetCookie(tokens.CreateCookie(tokens.RefreshCookie, res.RefreshToken, "/", time.Unix(res.RefreshExp, 0)))
	return claims, nil
}

func bearer(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func cookieValue(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func clearAuthCookies(c echo.Context) {
	c.SetCookie(tokens.DeleteCookie(tokens.AccessCookie, "/"))
	c.SetCookie(tokens.DeleteCookie(tokens.RefreshCookie, "/"))
}
