package echoportal

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/portal/core/toast"
)

func registerToastAPI(group *echo.Group) {
	group.GET("", listToasts)
	group.GET("/:id", getToast)
	group.DELETE("/:id", dismissToast)
}

func listToasts(ctx echo.Context) error {
	center, err := toast.FromContext(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, center.List())
}

func getToast(ctx echo.Context) error {
	center, err := toast.FromContext(ctx.Request().Context())
	if err != nil {
		return err
	}
	t, ok := center.Get(ctx.Param("id"))
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, t)
}

func dismissToast(ctx echo.Context) error {
	center, err := toast.FromContext(ctx.Request().Context())
	if err != nil {
		return err
	}
	if !center.Remove(ctx.Param("id")) {
		return errHttpNotFound
	}
	return ctx.NoContent(http.StatusNoContent)
}
