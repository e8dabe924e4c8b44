package echoportal

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/nav"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/core/user"
	"github.com/trezcool/masomo/portal/services/apiclient"
)

// screens maps every navigable path to its title.
var screens = func() map[string]string {
	m := make(map[string]string)
	for _, role := range user.AllRoles {
		for _, e := range nav.Resolve(role) {
			m[e.Path] = e.Label
		}
	}
	return m
}()

type pageHandlers struct {
	client *apiclient.Client
	logger core.Logger
}

func (h pageHandlers) loginForm(ctx echo.Context) error {
	if sess := currentSession(ctx); sess.IsAuthenticated() {
		return ctx.Redirect(http.StatusFound, homePath(sess))
	}
	v := newView(ctx, "Log in")
	v.Next = safeNext(ctx.QueryParam("next"))
	return ctx.Render(http.StatusOK, pageLogin, v)
}

func (h pageHandlers) login(ctx echo.Context) error {
	var creds user.Credentials
	if err := ctx.Bind(&creds); err != nil {
		return errors.Wrap(err, "binding data")
	}
	next := safeNext(ctx.FormValue("next"))

	v := newView(ctx, "Log in")
	v.Next = next
	err := creds.Validate()
	v.Form = creds
	if err != nil {
		return h.renderFormError(ctx, pageLogin, v, err)
	}

	sess, err := h.client.Login(ctx.Request().Context(), creds)
	if err != nil {
		return h.renderFormError(ctx, pageLogin, v, err)
	}
	h.welcome(ctx, sess)
	if next == "" {
		next = homePath(sess)
	}
	return ctx.Redirect(http.StatusFound, next)
}

func (h pageHandlers) signupForm(ctx echo.Context) error {
	if sess := currentSession(ctx); sess.IsAuthenticated() {
		return ctx.Redirect(http.StatusFound, homePath(sess))
	}
	return ctx.Render(http.StatusOK, pageSignup, newView(ctx, "Sign up"))
}

func (h pageHandlers) signup(ctx echo.Context) error {
	var s user.Signup
	if err := ctx.Bind(&s); err != nil {
		return errors.Wrap(err, "binding data")
	}

	v := newView(ctx, "Sign up")
	err := s.Validate()
	v.Form = s
	if err != nil {
		return h.renderFormError(ctx, pageSignup, v, err)
	}

	sess, err := h.client.Signup(ctx.Request().Context(), s)
	if err != nil {
		return h.renderFormError(ctx, pageSignup, v, err)
	}
	h.welcome(ctx, sess)
	return ctx.Redirect(http.StatusFound, homePath(sess))
}

func (h pageHandlers) logout(ctx echo.Context) error {
	store, err := session.FromContext(ctx.Request().Context())
	if err != nil {
		return err
	}
	store.Logout(ctx.Request().Context())
	if center, err := toast.FromContext(ctx.Request().Context()); err == nil {
		center.Info("Logged out", "See you soon.")
	}
	return ctx.Redirect(http.StatusFound, loginPath)
}

// screen renders a placeholder for any known protected path.
func (h pageHandlers) screen(ctx echo.Context) error {
	path := ctx.Request().URL.Path
	title, ok := screens[path]
	if !ok {
		return errHttpNotFound
	}
	return ctx.Render(http.StatusOK, pageScreen, newView(ctx, title))
}

// renderFormError shows a failed submission inline. Unexpected errors go to the error handler.
func (h pageHandlers) renderFormError(ctx echo.Context, page string, v view, err error) error {
	var apiErr *apiclient.APIError
	switch {
	case errors.As(err, &apiErr):
		v.Error = apiErr.Message
		return ctx.Render(formStatus(apiErr.Status), page, v)
	case errors.Is(err, apiclient.ErrUnsupportedRole):
		h.logger.Warn("login refused", err)
		v.Error = "This account cannot use the portal."
		return ctx.Render(http.StatusForbidden, page, v)
	}
	if vErr, ok := errors.Cause(err).(*core.ValidationError); ok {
		v.Error = "Please correct the errors below."
		v.FieldErrors = vErr.FieldErrors()
		return ctx.Render(http.StatusBadRequest, page, v)
	}
	h.logger.Error("calling the API", err)
	return newBadGateway(err)
}

func (h pageHandlers) welcome(ctx echo.Context, sess session.Session) {
	center, err := toast.FromContext(ctx.Request().Context())
	if err != nil {
		return
	}
	name := sess.Role.Name()
	if sess.User != nil && sess.User.Name != "" {
		name = sess.User.Name
	}
	center.Success("Welcome", "Logged in as "+name+".")
}

func currentSession(ctx echo.Context) session.Session {
	store, err := session.FromContext(ctx.Request().Context())
	if err != nil {
		return session.Session{}
	}
	return store.Session()
}

// formStatus keeps client errors as they are; server side failures are the API's, not the form's.
func formStatus(status int) int {
	if status >= http.StatusInternalServerError {
		return http.StatusBadGateway
	}
	return status
}
