package echoportal

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/services/apiclient"
)

var errHttpNotFound = echo.NewHTTPError(http.StatusNotFound, "not found")

func newBadGateway(err error) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadGateway, "the school API is unreachable").SetInternal(err)
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// JSON is sent to /api and /toasts callers; everyone else gets the error page.
func newAppHTTPErrorHandler(logger core.Logger, store *session.Store) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if fldErrs := origErr.FieldErrors(); fldErrs != nil {
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *apiclient.APIError:
			code = origErr.Status
			message = origErr.Message
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			logger.Error(msg, append([]interface{}{errors.Wrap(err, msg)}, logUser(store)...)...)
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}

		// Send response
		if !ctx.Response().Committed {
			switch {
			case ctx.Request().Method == http.MethodHead: // Issue #608
				err = ctx.NoContent(code)
			case wantsJSON(ctx):
				if m, ok := message.(string); ok {
					message = echo.Map{"error": m}
				}
				err = ctx.JSON(code, message)
			default:
				err = ctx.Render(code, pageError, errorView(ctx, code, message))
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func wantsJSON(ctx echo.Context) bool {
	p := ctx.Request().URL.Path
	return strings.HasPrefix(p, "/api/") || p == "/api" || strings.HasPrefix(p, "/toasts") ||
		strings.Contains(ctx.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

// errorView flattens the error message for the error page.
func errorView(ctx echo.Context, code int, message interface{}) view {
	v := newView(ctx, http.StatusText(code))
	v.Code = code
	switch m := message.(type) {
	case string:
		v.Error = m
	case map[string]string:
		v.FieldErrors = m
	default:
		v.Error = http.StatusText(code)
	}
	return v
}

// logUser returns the session user as a logger argument, if known.
func logUser(store *session.Store) []interface{} {
	if usr := store.Session().User; usr != nil {
		return []interface{}{*usr}
	}
	return nil
}
