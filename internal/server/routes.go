package server

import (
	"github.com/OFFIS-RIT/atlas/internal/server/routes"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Graph lookups
	e.GET("/companies", routes.GetCompanyHandler)
	e.GET("/companies/by-industry", routes.GetCompaniesByIndustryHandler)
	e.GET("/companies/by-location", routes.GetCompaniesByLocationHandler)
	e.GET("/people", routes.GetPeopleHandler)
	e.GET("/people/by-department", routes.GetPeopleByDepartmentHandler)
	e.GET("/analytics/industries", routes.GetIndustryAnalyticsHandler)
	e.GET("/neighbors", routes.GetNeighborsHandler)

	// Semantic and hybrid search
	e.GET("/search", routes.SearchHandler)
	e.GET("/search/companies", routes.SearchCompaniesHandler)
	e.GET("/search/people", routes.SearchPeopleHandler)
	e.GET("/search/hybrid", routes.HybridSearchHandler)
}
