package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/query"
)

type searchParams struct {
	Q     string `query:"q" validate:"required"`
	K     int    `query:"k"`
	Types string `query:"types"`
}

func search(c echo.Context, fixedTypes ...string) error {
	params := &searchParams{K: defaultK}
	if err := bind(c, params); err != nil {
		return err
	}
	types := splitTypes(params.Types)
	if len(fixedTypes) > 0 {
		types = fixedTypes
	}

	res, err := service(c).Search(c.Request().Context(), params.Q, params.K, types)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func SearchHandler(c echo.Context) error {
	return search(c)
}

func SearchCompaniesHandler(c echo.Context) error {
	return search(c, common.TypeCompany)
}

func SearchPeopleHandler(c echo.Context) error {
	return search(c, common.TypePerson)
}

type tracedHybridResponse struct {
	Results []query.HybridHit        `json:"results"`
	Trace   query.QueryTraceSnapshot `json:"trace"`
}

// HybridSearchHandler returns the hits, or with trace=true the hits and the
// steps that produced them.
func HybridSearchHandler(c echo.Context) error {
	type hybridParams struct {
		Q     string `query:"q" validate:"required"`
		K     int    `query:"k"`
		Depth int    `query:"depth"`
		Trace bool   `query:"trace"`
	}

	params := &hybridParams{K: defaultK, Depth: defaultDepth}
	if err := bind(c, params); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if !params.Trace {
		res, err := service(c).Hybrid(ctx, params.Q, params.K, params.Depth, nil)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}

	trace := query.NewQueryTrace()
	res, err := service(c).Hybrid(ctx, params.Q, params.K, params.Depth, trace)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tracedHybridResponse{Results: res, Trace: trace.Snapshot()})
}
