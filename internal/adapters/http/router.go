package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp returns a fiber app with every agent route registered.
func NewApp(h *ContainerHandler, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", h.Health)
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")
	v1 := api.Group("/v1")

	containers := v1.Group("/containers")
	containers.Get("/", h.ListContainers)
	containers.Get("/:name/logs", h.GetContainerLogs)

	v1.Get("/plan", h.GetPlan)

	runs := v1.Group("/runs")
	runs.Post("/", h.TriggerRun)
	runs.Get("/last", h.LastRun)

	return app
}
