package common

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequireUUIDParam extracts a UUID route parameter or returns a 400 error.
func RequireUUIDParam(c echo.Context, param string) (uuid.UUID, error) {
	u, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
	}
	return u, nil
}

// Value reads a field from the query string or a form body.
func Value(c echo.Context, name string) string {
	return strings.TrimSpace(c.FormValue(name))
}

// OptionalInt parses an optional integer field.
func OptionalInt(c echo.Context, name string) (*int64, error) {
	raw := Value(c, name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ErrBadRequest("invalid " + name)
	}
	return &n, nil
}

// OptionalFloat parses an optional float field.
func OptionalFloat(c echo.Context, name string) (*float64, error) {
	raw := Value(c, name)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, ErrBadRequest("invalid " + name)
	}
	return &f, nil
}
