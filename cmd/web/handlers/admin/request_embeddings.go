// package admin holds operator-only recovery handlers.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/jobs"
	"thirdcoast.systems/allthethings/internal/webhook"
)

// HandleRequestEmbeddings re-dispatches the embedding job for an asset left in
// PROCESSED after a failed dispatch.
func HandleRequestEmbeddings(h *webhook.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		slog.Info("admin requested embeddings", "asset_id", id)

		asset, err := h.RequestEmbeddings(c.Request().Context(), id)
		var dispatchErr *jobs.DispatchError
		switch {
		case errors.Is(err, assets.ErrNotFound):
			return common.ErrNotFound("asset not found")
		case errors.Is(err, webhook.ErrNotProcessed):
			return common.ErrConflict(err.Error())
		case errors.As(err, &dispatchErr):
			slog.Warn("embedding dispatch failed", "asset_id", id, "error", err)
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		case err != nil:
			slog.Error("failed to request embeddings", "asset_id", id, "error", err)
			return common.ErrInternal("failed to request embeddings")
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"status": asset.Status,
			"asset":  common.NewAssetView(asset),
		})
	}
}
