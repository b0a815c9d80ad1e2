package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetNeighborsHandler(c echo.Context) error {
	type neighborsParams struct {
		ID    string `query:"id" validate:"required"`
		Depth int    `query:"depth"`
	}

	params := &neighborsParams{Depth: defaultDepth}
	if err := bind(c, params); err != nil {
		return err
	}

	res, err := service(c).Neighbors(c.Request().Context(), params.ID, params.Depth)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
