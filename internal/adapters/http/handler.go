package http

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/core/reconcile"
	"github.com/melih/harbormaster/internal/logging"
)

// Reconciler is the engine surface exposed over HTTP.
type Reconciler interface {
	Run(ctx context.Context) (*domain.RunReport, error)
	Plan(ctx context.Context) (*reconcile.Plan, error)
	Observe(ctx context.Context) ([]domain.ObservedContainer, error)
	LastReport() *domain.RunReport
}

// RunResponse is returned by POST /runs.
type RunResponse struct {
	Report *domain.RunReport `json:"report"`
	Error  string            `json:"error,omitempty"`
}

type ContainerHandler struct {
	engine Reconciler
	logs   ports.LogReader
	logger *zap.Logger
}

// NewContainerHandler builds the agent handlers. logs may be nil, in which
// case the log route answers 501.
func NewContainerHandler(engine Reconciler, logs ports.LogReader) *ContainerHandler {
	return &ContainerHandler{engine: engine, logs: logs, logger: logging.ComponentLogger("http")}
}

func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.engine.Observe(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(containers)
}

func (h *ContainerHandler) GetPlan(c *fiber.Ctx) error {
	plan, err := h.engine.Plan(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(plan)
}

// TriggerRun runs a reconciliation synchronously. A run that aborted still
// answers with its report.
func (h *ContainerHandler) TriggerRun(c *fiber.Ctx) error {
	report, err := h.engine.Run(c.UserContext())
	resp := RunResponse{Report: report}
	if err != nil {
		resp.Error = err.Error()
		return c.Status(statusFor(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (h *ContainerHandler) LastRun(c *fiber.Ctx) error {
	report := h.engine.LastReport()
	if report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no run yet",
		})
	}
	return c.JSON(report)
}

func (h *ContainerHandler) GetContainerLogs(c *fiber.Ctx) error {
	if h.logs == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "logs are not available for this runtime",
		})
	}
	name := c.Params("name")
	tail := c.Query("tail", "100")
	if tail != "all" {
		if n, err := strconv.Atoi(tail); err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "tail must be a number or \"all\"",
			})
		}
	}

	logs, err := h.logs.Logs(c.UserContext(), name, tail)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendStream(logs)
}

func (h *ContainerHandler) Health(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok"}
	if r := h.engine.LastReport(); r != nil {
		status["last_run"] = r.Finished
		if r.Error != "" {
			status["last_error"] = r.Error
		}
	}
	return c.JSON(status)
}

func (h *ContainerHandler) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfig), errors.Is(err, domain.ErrParse):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrLaunch), errors.Is(err, domain.ErrLogin):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
