package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/handler"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Checkout *handler.CheckoutHandler
	Webhook  *handler.WebhookHandler
	Order    *handler.OrderHandler
}

// New builds the echo application: recovery, request ids, structured
// request logging, HTTP metrics, the JSON error envelope, and all routes.
func New(logger *slog.Logger, metrics *middleware.Metrics, handlers Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Timeout(30 * time.Second))
	e.Use(middleware.RequestLogger(logger))
	if metrics != nil {
		e.Use(metrics.Middleware())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	handlers.Checkout.Register(e)
	handlers.Webhook.Register(e)
	handlers.Order.Register(e)

	return e
}
