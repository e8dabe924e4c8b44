package echoportal

import (
	"io"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/services/apiclient"
)

// registerProxy relays /api/<path> to <api>/<path> through the authenticated client.
// A 401 is relayed as is, after the client has torn the session down.
func registerProxy(group *echo.Group, client *apiclient.Client, logger core.Logger) {
	group.Any("/*", func(ctx echo.Context) error {
		req := ctx.Request()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return errors.Wrap(err, "reading body")
		}

		resp, err := client.Do(req.Context(), req.Method, "/"+ctx.Param("*"), ctx.QueryParams(), req.Header, body)
		if resp == nil {
			logger.Error("relaying request", err)
			return newBadGateway(err)
		}

		ct := resp.Header.Get(echo.HeaderContentType)
		if ct == "" {
			ct = echo.MIMEOctetStream
		}
		if len(resp.Body) == 0 {
			return ctx.NoContent(resp.Status)
		}
		return ctx.Blob(resp.Status, ct, resp.Body)
	})
}

