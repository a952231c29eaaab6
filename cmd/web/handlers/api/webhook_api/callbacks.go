// package webhook_api receives provider completion callbacks.
package webhook_api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/jobs"
	"thirdcoast.systems/allthethings/internal/webhook"
)

type applyFunc func(ctx context.Context, assetID string, body []byte, signature string) (*webhook.Outcome, error)

func HandleTranscription(h *webhook.Handler) echo.HandlerFunc {
	return handleCallback("transcription", h.HandleTranscription)
}

func HandleEmbedding(h *webhook.Handler) echo.HandlerFunc {
	return handleCallback("embedding", h.HandleEmbedding)
}

// handleCallback passes the body through untouched; the signature covers the
// exact bytes received.
func handleCallback(stage string, apply applyFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return common.ErrBadRequest("could not read body")
		}

		out, err := apply(c.Request().Context(), c.Param("id"), body, c.Request().Header.Get(webhook.SignatureHeader))
		if err != nil {
			return callbackError(stage, err)
		}

		resp := map[string]any{
			"status":   out.Asset.Status,
			"replayed": out.Replayed,
		}
		if out.Asset.Status.IsError() {
			resp["error"] = common.DerefString(out.Asset.Error)
		}
		if out.Warning != nil {
			resp["warning"] = out.Warning.Error()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// callbackError maps handler errors onto status codes the relay understands:
// 4xx other than 409 stops redelivery, 409 and 5xx are retried.
func callbackError(stage string, err error) error {
	switch {
	case errors.Is(err, webhook.ErrUnauthenticated):
		return common.ErrUnauthorized()
	case errors.Is(err, webhook.ErrCorrelationNotFound):
		return common.ErrNotFound("unknown asset")
	case errors.Is(err, jobs.ErrDimensionMismatch):
		return common.ErrUnprocessable("embedding has wrong dimensions")
	case errors.Is(err, webhook.ErrMalformedPayload):
		return common.ErrBadRequest("malformed payload")
	case errors.Is(err, webhook.ErrOutOfOrder):
		return common.ErrConflict("asset is not ready for this callback")
	case errors.Is(err, webhook.ErrJobMismatch):
		return common.ErrConflict("callback job does not match asset")
	default:
		slog.Error("failed to apply callback", "stage", stage, "error", err)
		return common.ErrInternal("failed to apply callback")
	}
}
