package echoportal

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/services/apiclient"
)

// CSRF token: form field, request context key
const (
	csrfField      = "_csrf"
	csrfContextKey = "csrf"
)

// Entry points
const (
	loginPath      = "/login"
	signupPath     = "/signup"
	dashboardPath  = "/dashboard"
	superadminPath = "/superadmin"
)

type (
	ServerDeps struct {
		Conf   *core.Config
		Logger core.Logger
		Store  *session.Store
		Toasts *toast.Center
		Client *apiclient.Client
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = core.NopLogger{}
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.Renderer = newRenderer()
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Store)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(attachContext(conf.AppName, s.deps.Store, s.deps.Toasts))
	s.app.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "header:" + echo.HeaderXCSRFToken + ",form:" + csrfField,
		ContextKey:     csrfContextKey,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteStrictMode,
	}))

	s.app.GET("/", s.home)

	// public
	pages := pageHandlers{client: s.deps.Client, logger: s.deps.Logger}
	s.app.GET(loginPath, pages.loginForm)
	s.app.POST(loginPath, pages.login)
	s.app.GET(signupPath, pages.signupForm)
	s.app.POST(signupPath, pages.signup)
	s.app.POST("/logout", pages.logout)

	// protected subtrees
	guard := RequireSession(s.deps.Store)
	dg := s.app.Group(dashboardPath, guard)
	dg.GET("", pages.screen)
	dg.GET("/*", pages.screen)
	sg := s.app.Group(superadminPath, guard)
	sg.GET("", pages.screen)
	sg.GET("/*", pages.screen)

	registerToastAPI(s.app.Group("/toasts"))
	registerProxy(s.app.Group("/api"), s.deps.Client, s.deps.Logger)
}

func (s *Server) home(ctx echo.Context) error {
	if s.deps.Store.Session().IsAuthenticated() {
		return ctx.Redirect(http.StatusFound, homePath(s.deps.Store.Session()))
	}
	return ctx.Redirect(http.StatusFound, loginPath)
}

// Start listens on conf.Server.Address; errors other than a clean shutdown are sent to Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal relays SIGINT & SIGTERM.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}
