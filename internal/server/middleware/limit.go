package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimit serves at most workers requests at a time. Waiting
// requests give up when the client goes away.
func ConcurrencyLimit(workers int) echo.MiddlewareFunc {
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := sem.Acquire(c.Request().Context(), 1); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy")
			}
			defer sem.Release(1)
			return next(c)
		}
	}
}
