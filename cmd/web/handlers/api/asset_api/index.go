package asset_api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/assets"
)

const maxListLimit = 1000

// HandleIndex lists assets newest first, optionally by status.
func HandleIndex(store assets.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := assets.ListParams{}
		if raw := c.QueryParam("status"); raw != "" {
			status, err := assets.ParseStatus(raw)
			if err != nil {
				return common.ErrBadRequest(err.Error())
			}
			params.Status = status
		}
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxListLimit {
				return common.ErrBadRequest("invalid limit")
			}
			params.Limit = n
		}

		list, err := store.List(c.Request().Context(), params)
		if err != nil {
			slog.Error("failed to list assets", "error", err)
			return common.ErrInternal("failed to list assets")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":  len(list),
			"assets": common.NewAssetViews(list),
		})
	}
}
