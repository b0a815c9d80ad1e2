package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type companyParams struct {
	Domain string `query:"domain" validate:"required"`
}

// GetCompanyHandler answers null when no company has the domain.
func GetCompanyHandler(c echo.Context) error {
	params := new(companyParams)
	if err := bind(c, params); err != nil {
		return err
	}

	res, err := service(c).Company(c.Request().Context(), params.Domain)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func GetCompaniesByIndustryHandler(c echo.Context) error {
	type byIndustryParams struct {
		Industry string `query:"industry" validate:"required"`
	}

	params := new(byIndustryParams)
	if err := bind(c, params); err != nil {
		return err
	}

	res, err := service(c).CompaniesByIndustry(c.Request().Context(), params.Industry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func GetCompaniesByLocationHandler(c echo.Context) error {
	type byLocationParams struct {
		Location string `query:"location" validate:"required"`
	}

	params := new(byLocationParams)
	if err := bind(c, params); err != nil {
		return err
	}

	res, err := service(c).CompaniesByLocation(c.Request().Context(), params.Location)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func GetIndustryAnalyticsHandler(c echo.Context) error {
	res, err := service(c).IndustryAnalytics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
