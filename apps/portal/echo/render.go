package echoportal

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/portal/core/nav"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
)

// Pages
const (
	pageLogin  = "login"
	pageSignup = "signup"
	pageScreen = "screen"
	pageError  = "error"
)

//go:embed templates/*.html
var templateFS embed.FS

type (
	renderer struct {
		pages map[string]*template.Template
	}

	// view is the data every page is rendered with.
	view struct {
		AppName     string
		Title       string
		Path        string
		Session     session.Session
		Nav         []nav.Entry
		Toasts      []toast.Toast
		Code        int
		Error       string
		FieldErrors map[string]string
		Form        interface{}
		Next        string
		CSRF        string
	}
)

var _ echo.Renderer = (*renderer)(nil)

// newRenderer parses one template set per page, each on top of the shared layout.
func newRenderer() *renderer {
	r := &renderer{pages: make(map[string]*template.Template)}
	for _, page := range []string{pageLogin, pageSignup, pageScreen, pageError} {
		r.pages[page] = template.Must(
			template.New("layout.html").ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html"),
		)
	}
	return r
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}

// newView takes the session snapshot once so the menu and the drawer are built from the same entries.
func newView(ctx echo.Context, title string) view {
	v := view{
		Title: title,
		Path:  ctx.Request().URL.Path,
	}
	if store, err := session.FromContext(ctx.Request().Context()); err == nil {
		v.Session = store.Session()
		v.Nav = nav.ForSession(v.Session)
	}
	if center, err := toast.FromContext(ctx.Request().Context()); err == nil {
		v.Toasts = center.List()
	}
	if token, ok := ctx.Get(csrfContextKey).(string); ok {
		v.CSRF = token
	}
	if name, ok := ctx.Get(appNameKey).(string); ok {
		v.AppName = name
	}
	return v
}
