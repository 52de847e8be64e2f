package middleware

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetricsApp(t *testing.T) (*fiber.App, *PrometheusMiddleware, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	pm, err := NewPrometheusMiddleware(reg)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(pm.Handler())

	app.Get("/runs", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/runs/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Delete("/archive/:ref", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/registries/:tool", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "no registry")
	})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/metrics", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/ws", func(c *fiber.Ctx) error { return fiber.ErrUpgradeRequired })

	return app, pm, reg
}

func TestPrometheusMiddleware(t *testing.T) {
	app, pm, _ := newMetricsApp(t)

	tests := []struct {
		name   string
		method string
		target string
		route  string
		status string
	}{
		{"plain route", "GET", "/runs", "/runs", "200"},
		{"route pattern", "GET", "/runs/0b6f3c1e", "/runs/:id", "200"},
		{"delete", "DELETE", "/archive/run-1", "/archive/:ref", "204"},
		{"fiber error", "GET", "/registries/jira", "/registries/:tool", "404"},
		{"plain error", "GET", "/boom", "/boom", "500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Test(httptest.NewRequest(tt.method, tt.target, nil))
			require.NoError(t, err)

			assert.Equal(t, 1.0, testutil.ToFloat64(pm.requestCount.WithLabelValues(tt.method, tt.route, tt.status)))
		})
	}

	assert.Equal(t, len(tests), testutil.CollectAndCount(pm.requestDuration))
}

func TestPrometheusMiddleware_SkipsMetricsAndWebSocket(t *testing.T) {
	app, _, reg := newMetricsApp(t)

	for _, target := range []string{"/metrics", "/ws"} {
		_, err := app.Test(httptest.NewRequest("GET", target, nil))
		require.NoError(t, err)
	}

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		assert.Empty(t, mf.GetMetric(), mf.GetName())
	}
}

func TestPrometheusMiddleware_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMiddleware(reg)
	require.NoError(t, err)

	_, err = NewPrometheusMiddleware(reg)
	assert.Error(t, err)
}
