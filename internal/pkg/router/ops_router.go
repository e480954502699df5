package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// OpsRouter serves health and metrics.
type OpsRouter struct {
	gatherer prometheus.Gatherer
	checks   map[string]ReadinessCheck
}

func NewOpsRouter(gatherer prometheus.Gatherer, checks map[string]ReadinessCheck) *OpsRouter {
	return &OpsRouter{gatherer: gatherer, checks: checks}
}

func (o *OpsRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", o.handleHealth)
	if o.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})))
	}
}

func (o *OpsRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	components := fiber.Map{}
	for name, check := range o.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	return c.Status(status).JSON(fiber.Map{
		"ok":         status == fiber.StatusOK,
		"components": components,
	})
}
