package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/gemsync/internal/version"
)

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger   *logrus.Logger
	Registry *SourceRegistry
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

const contextKeyRequestID = "_gemsync_request_id"

// NewApp builds a Fiber application with request IDs, access logging, panic
// recovery and the metrics endpoint. Route groups are registered by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("source registry is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       version.Name,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return app, nil
}

// NotFound 注册兜底路由，必须在所有路由组注册之后调用。
func NotFound(app *fiber.App) {
	var handler fiber.Handler = func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
			"path":  c.Path(),
		})
	}
	app.Use(handler)
}

// requestContextMiddleware 负责生成请求 ID 并记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		logger.WithFields(logrus.Fields{
			"action":     "http",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"duration":   time.Since(start).String(),
		}).Debug("request served")
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
