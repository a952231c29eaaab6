// package asset_api provides asset submission and listing handlers.
package asset_api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/ingest"
)

func HandleSubmit(ctrl *ingest.Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			URL string `json:"url" form:"url" query:"url"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid request body")
		}

		sub, err := ctrl.Submit(c.Request().Context(), req.URL)
		switch {
		case errors.Is(err, ingest.ErrAlreadyIndexed):
			resp := map[string]any{"status": "already_indexed"}
			if sub != nil {
				resp["asset"] = common.NewAssetView(sub.Asset)
			}
			return c.JSON(http.StatusOK, resp)
		case errors.Is(err, ingest.ErrInvalidURL):
			return c.JSON(http.StatusBadRequest, map[string]any{"status": "invalid_url", "error": err.Error()})
		case errors.Is(err, ingest.ErrUnreachable):
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{"status": "unreachable", "error": err.Error()})
		case errors.Is(err, ingest.ErrUnsupportedType):
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{"status": "unsupported_type", "error": err.Error()})
		case err != nil:
			slog.Error("failed to submit asset", "url", req.URL, "error", err)
			return common.ErrInternal("failed to submit asset")
		}

		if sub.Warning != nil {
			return c.JSON(http.StatusAccepted, map[string]any{
				"status":    "dispatch_failed",
				"processor": sub.Processor,
				"warning":   sub.Warning.Error(),
				"asset":     common.NewAssetView(sub.Asset),
			})
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"status":    "created",
			"processor": sub.Processor,
			"asset":     common.NewAssetView(sub.Asset),
		})
	}
}
