package routes

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/atlas/internal/server/middleware"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/query"
)

const (
	defaultK     = 10
	defaultDepth = 1
)

// bind reads the query string into params and validates it. Fields keep
// their preset value when the parameter is absent.
func bind(c echo.Context, params any) error {
	if err := c.Bind(params); err != nil {
		return fmt.Errorf("%w: invalid query parameters", common.ErrInvalidInput)
	}
	return c.Validate(params)
}

func service(c echo.Context) *query.Service {
	return c.(*middleware.AppContext).App.Query
}

func splitTypes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
