package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/OFFIS-RIT/atlas/internal/platform"
	mid "github.com/OFFIS-RIT/atlas/internal/server/middleware"
	"github.com/OFFIS-RIT/atlas/internal/server/routes"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
	"github.com/OFFIS-RIT/atlas/pkg/query"
)

const DefaultWorkers = 64

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewValidator reports fields by their query parameter name.
func NewValidator() *CustomValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &CustomValidator{validator: v}
}

type NewServerParams struct {
	Query *query.Service
	// Workers bounds concurrently served requests.
	Workers int
	// Metrics defaults to the process-wide collectors.
	Metrics *metrics.Metrics
}

func New(params NewServerParams) *echo.Echo {
	workers := params.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	m := params.Metrics
	if m == nil {
		m = metrics.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = routes.HTTPErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLogger())
	e.Use(mid.Metrics(m))
	e.Use(mid.ConcurrencyLimit(workers))
	e.Use(mid.AppContextMiddleware(&mid.App{Query: params.Query}))

	RegisterRoutes(e)
	return e
}

func Init() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := platform.New(ctx)
	defer p.Close()

	svc, err := p.Query()
	if err != nil {
		logger.Fatal("Failed to initialise query service", "err", err)
	}

	e := New(NewServerParams{
		Query:   svc,
		Workers: int(util.GetEnvNumeric("SERVER_WORKERS", DefaultWorkers)),
	})

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
