package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetPeopleHandler(c echo.Context) error {
	type peopleParams struct {
		Q string `query:"q" validate:"required"`
	}

	params := new(peopleParams)
	if err := bind(c, params); err != nil {
		return err
	}

	res, err := service(c).People(c.Request().Context(), params.Q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func GetPeopleByDepartmentHandler(c echo.Context) error {
	type byDepartmentParams struct {
		Department string `query:"department" validate:"required"`
	}

	params := new(byDepartmentParams)
	if err := bind(c, params); err != nil {
		return err
	}

	res, err := service(c).PeopleByDepartment(c.Request().Context(), params.Department)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
