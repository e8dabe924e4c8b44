package echoportal

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/portal/core/nav"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
)

// RequireSession redirects to the login page unless the session is authenticated.
// The verdict is taken again on every request and never cached.
// It does not look at the role: a session may reach any protected screen by its URL.
func RequireSession(store *session.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if store.Session().IsAuthenticated() {
				return next(ctx)
			}
			target := loginPath
			if ctx.Request().Method == http.MethodGet {
				target += "?next=" + url.QueryEscape(ctx.Request().URL.RequestURI())
			}
			return ctx.Redirect(http.StatusFound, target)
		}
	}
}

const appNameKey = "appName"

// attachContext makes the store and the toast center reachable from the request context.
func attachContext(appName string, store *session.Store, toasts *toast.Center) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctx.Set(appNameKey, appName)
			c := ctx.Request().Context()
			c = session.NewContext(c, store)
			c = toast.NewContext(c, toasts)
			ctx.SetRequest(ctx.Request().WithContext(c))
			return next(ctx)
		}
	}
}

// homePath is where an authenticated session lands: its first navigation entry.
func homePath(sess session.Session) string {
	if entries := nav.ForSession(sess); len(entries) > 0 {
		return entries[0].Path
	}
	return dashboardPath
}

// safeNext only allows local absolute paths as post-login redirects.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	if strings.HasPrefix(next, loginPath) || strings.HasPrefix(next, signupPath) {
		return ""
	}
	return next
}
