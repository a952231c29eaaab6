package asset_api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/assets"
)

func HandleShow(store assets.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		a, err := store.Get(c.Request().Context(), id)
		if errors.Is(err, assets.ErrNotFound) {
			return common.ErrNotFound("asset not found")
		}
		if err != nil {
			slog.Error("failed to load asset", "asset_id", id, "error", err)
			return common.ErrInternal("failed to load asset")
		}
		return c.JSON(http.StatusOK, common.NewAssetView(a))
	}
}
