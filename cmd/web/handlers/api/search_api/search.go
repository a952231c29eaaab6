// package search_api serves similarity search.
package search_api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/allthethings/cmd/web/handlers/common"
	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/search"
)

type searchRequest struct {
	Query         string   `validate:"required,max=2000"`
	TopK          *int64   `validate:"omitempty,min=1,max=50"`
	ContentType   string   `validate:"max=255"`
	ContentFamily string   `validate:"omitempty,oneof=audio video image text application"`
	MinBytes      *int64   `validate:"omitempty,min=0"`
	MaxBytes      *int64   `validate:"omitempty,min=0"`
	MinScore      *float64 `validate:"omitempty,min=0,max=1"`
	Contains      string   `validate:"max=255"`
}

// HandleSearch accepts query string or form parameters. An embedding failure
// is reported as 503 with status "unavailable".
func HandleSearch(engine *search.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := searchRequest{
			Query:         common.Value(c, "query"),
			ContentType:   common.Value(c, "content_type"),
			ContentFamily: common.Value(c, "content_family"),
			Contains:      common.Value(c, "contains"),
		}
		var err error
		if req.TopK, err = common.OptionalInt(c, "topK"); err != nil {
			return err
		}
		if req.MinBytes, err = common.OptionalInt(c, "min_bytes"); err != nil {
			return err
		}
		if req.MaxBytes, err = common.OptionalInt(c, "max_bytes"); err != nil {
			return err
		}
		if req.MinScore, err = common.OptionalFloat(c, "min_score"); err != nil {
			return err
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		q := search.Query{
			Text: req.Query,
			Filter: assets.Prefilter{
				ContentType:   req.ContentType,
				ContentFamily: req.ContentFamily,
				MinBytes:      req.MinBytes,
				MaxBytes:      req.MaxBytes,
			},
			Post: search.Postfilter{
				MinScore: req.MinScore,
				Contains: req.Contains,
			},
		}
		if req.TopK != nil {
			q.TopK = int(*req.TopK)
		}

		results, err := engine.Search(c.Request().Context(), q)
		switch {
		case errors.Is(err, search.ErrUnavailable):
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		case errors.Is(err, search.ErrEmptyQuery):
			return common.ErrBadRequest("query is required")
		case err != nil:
			slog.Error("search failed", "error", err)
			return common.ErrInternal("search failed")
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"query":   req.Query,
			"results": results,
		})
	}
}
