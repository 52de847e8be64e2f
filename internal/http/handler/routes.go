package handler

import (
	"context"
	_ "embed"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vimani/internal/archivist"
	"vimani/internal/errs"
	"vimani/internal/orchestrator"
	"vimani/internal/registry"
)

//go:embed static/test.html
var demoPage string

const healthTimeout = 2 * time.Second

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are what the routes need.
type Deps struct {
	// Context bounds WebSocket sessions; cancelling it cancels their runs.
	Context      context.Context
	Orchestrator *orchestrator.Service
	Gatherer     prometheus.Gatherer
	Log          zerolog.Logger
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	svc := d.Orchestrator
	ctx := d.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var health Pinger
	if a := svc.Archivist(); a != nil {
		health = a
	}

	app.Get("/health", HealthCheck(health))
	app.Get("/healthz", LivenessProbe())
	app.Get("/test", DemoPage())

	app.Use("/ws", WebSocketUpgrade())
	app.Get("/ws", WebSocket(ctx, svc, d.Log))

	app.Get("/runs", ListRuns(svc.Store()))
	app.Get("/runs/:id", GetRun(svc.Store()))

	app.Get("/archive", ListArchive(svc.Archivist()))
	app.Get("/archive/:ref", GetArchive(svc.Archivist()))
	app.Delete("/archive/:ref", DeleteArchive(svc.Archivist()))

	app.Get("/registries/:tool", GetRegistry(svc.Registry()))

	if d.Gatherer != nil {
		app.Get("/metrics", Metrics(d.Gatherer))
	}
}

// HealthCheck godoc
// @Summary Health check
// @Description Reports ok when the archive backend answers a ping
// @Tags health
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(p Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.JSON(fiber.Map{"ok": true})
	}
}

// LivenessProbe godoc
// @Summary Liveness probe
// @Tags health
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// DemoPage serves the browser client for the WebSocket protocol.
func DemoPage() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Type("html").SendString(demoPage)
	}
}

// ListRuns godoc
// @Summary List runs held in memory
// @Tags runs
// @Produce json
// @Param limit query int false "page size" default(20)
// @Param offset query int false "offset" default(0)
// @Success 200 {object} map[string]any
// @Failure 400 {object} errorPayload
// @Router /runs [get]
func ListRuns(store *orchestrator.RunStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, offset, perr := pageParams(c, 20)
		if perr != nil {
			return perr.write(c)
		}
		runs := store.List()
		total := len(runs)
		if offset > total {
			offset = total
		}
		end := min(offset+limit, total)
		return c.JSON(fiber.Map{"data": runs[offset:end], "total": total})
	}
}

// GetRun godoc
// @Summary Get a run's live state
// @Tags runs
// @Produce json
// @Param id path string true "Run ID (UUID)"
// @Success 200 {object} model.RunState
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /runs/{id} [get]
func GetRun(store *orchestrator.RunStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		st, ok := store.Get(id)
		if !ok {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "run not found")
		}
		return c.JSON(st)
	}
}

// ListArchive godoc
// @Summary List archived runs, newest first
// @Tags archive
// @Produce json
// @Param limit query int false "page size" default(10)
// @Param offset query int false "offset" default(0)
// @Success 200 {object} archivist.ListResult
// @Failure 400 {object} errorPayload
// @Router /archive [get]
func ListArchive(a archivist.Archivist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if a == nil {
			return archiveDisabled(c)
		}
		limit, offset, perr := pageParams(c, 10)
		if perr != nil {
			return perr.write(c)
		}
		res, err := a.ListRuns(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetArchive godoc
// @Summary Get an archived run
// @Tags archive
// @Produce json
// @Param ref path string true "Archive ref"
// @Success 200 {object} model.ArchiveRecord
// @Failure 404 {object} errorPayload
// @Router /archive/{ref} [get]
func GetArchive(a archivist.Archivist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if a == nil {
			return archiveDisabled(c)
		}
		rec, err := a.FetchRun(c.UserContext(), c.Params("ref"))
		if err != nil {
			if errors.Is(err, archivist.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "archived run not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(rec)
	}
}

// DeleteArchive godoc
// @Summary Delete an archived run
// @Tags archive
// @Param ref path string true "Archive ref"
// @Success 204
// @Failure 404 {object} errorPayload
// @Router /archive/{ref} [delete]
func DeleteArchive(a archivist.Archivist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if a == nil {
			return archiveDisabled(c)
		}
		if err := a.DeleteRun(c.UserContext(), c.Params("ref")); err != nil {
			if errors.Is(err, archivist.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "archived run not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GetRegistry godoc
// @Summary Get the operation registry of a tool
// @Tags registries
// @Produce json
// @Param tool path string true "Tool key"
// @Success 200 {object} registry.Registry
// @Failure 404 {object} errorPayload
// @Router /registries/{tool} [get]
func GetRegistry(l *registry.Loader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reg, err := l.Load(c.Params("tool"))
		if err != nil {
			if errs.Is(err, errs.CodeRegistryNotFound) {
				return writeError(c, fiber.StatusNotFound, errs.CodeRegistryNotFound, "registry not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(reg)
	}
}

// Metrics exposes g in the prometheus text format.
func Metrics(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

func archiveDisabled(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusServiceUnavailable, "ARCHIVE_DISABLED", "archive is disabled")
}

type paramError struct {
	code    string
	message string
}

func (e *paramError) write(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, e.code, e.message)
}

// pageParams reads limit (1..100) and offset (>= 0) from the query string.
func pageParams(c *fiber.Ctx, defLimit int) (int, int, *paramError) {
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defLimit)))
	if err != nil || limit < 1 || limit > 100 {
		return 0, 0, &paramError{"INVALID_LIMIT", "invalid limit"}
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, &paramError{"INVALID_OFFSET", "invalid offset"}
	}
	return limit, offset, nil
}
