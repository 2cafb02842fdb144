// Package http exposes the monitoring service over REST: per-appliance
// measurements, toggles, service calls, history queries, backfill imports
// and S3 exports.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/engine"
	"github.com/appliancemon/appliance-monitor/internal/export"
	"github.com/appliancemon/appliance-monitor/internal/history"
	"github.com/appliancemon/appliance-monitor/internal/importer"
)

// Deps is everything the handlers reach into. Exporter may be nil when cloud
// services are disabled.
type Deps struct {
	Engines    map[string]*engine.Engine
	Appliances map[string]config.Appliance
	History    *history.Service
	Importer   *importer.Importer
	Exporter   *export.Exporter
	Prices     func(applianceID string) float64
	Log        zerolog.Logger
}

func Register(app *fiber.App, d Deps) {
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	app.Get("/appliances", func(c *fiber.Ctx) error {
		out := make([]fiber.Map, 0, len(d.Engines))
		for id, eng := range d.Engines {
			cfg := d.Appliances[id]
			out = append(out, fiber.Map{
				"id":    id,
				"name":  cfg.Name,
				"kind":  cfg.Kind,
				"state": eng.Measurements()["state"],
			})
		}
		return c.JSON(out)
	})

	g := app.Group("/appliances/:id", func(c *fiber.Ctx) error {
		if _, ok := d.Engines[c.Params("id")]; !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown appliance"})
		}
		return c.Next()
	})

	g.Get("/measurements", func(c *fiber.Ctx) error {
		return c.JSON(d.Engines[c.Params("id")].Measurements())
	})

	g.Get("/toggles", func(c *fiber.Ctx) error {
		return c.JSON(d.Engines[c.Params("id")].GetToggles())
	})

	g.Put("/toggles/:name", func(c *fiber.Ctx) error {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		eng := d.Engines[c.Params("id")]
		switch c.Params("name") {
		case "monitoring":
			eng.SetMonitoring(c.Context(), body.Enabled)
		case "notifications":
			eng.SetNotifications(c.Context(), body.Enabled)
		case "auto_shutdown":
			eng.SetAutoShutdown(c.Context(), body.Enabled)
		case "energy_limits":
			eng.SetEnergyLimits(c.Context(), body.Enabled)
		case "scheduling":
			eng.SetScheduling(c.Context(), body.Enabled)
		case "ai_analysis":
			eng.SetAIAnalysis(c.Context(), body.Enabled)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown toggle"})
		}
		return c.JSON(eng.GetToggles())
	})

	g.Post("/start_cycle", func(c *fiber.Ctx) error {
		d.Engines[c.Params("id")].StartCycle(c.Context())
		return c.SendStatus(fiber.StatusNoContent)
	})

	g.Post("/stop_monitoring", func(c *fiber.Ctx) error {
		d.Engines[c.Params("id")].StopMonitoring(c.Context())
		return c.SendStatus(fiber.StatusNoContent)
	})

	g.Post("/reset_statistics", func(c *fiber.Ctx) error {
		d.Engines[c.Params("id")].ResetStatistics(c.Context())
		return c.SendStatus(fiber.StatusNoContent)
	})

	g.Get("/history", func(c *fiber.Ctx) error {
		q, err := historyQuery(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		res, err := d.History.Query(c.Context(), c.Params("id"), q)
		if err != nil {
			d.Log.Error().Err(err).Msg("history query failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history query failed"})
		}
		return c.JSON(res)
	})

	g.Post("/import", func(c *fiber.Ctx) error {
		var body struct {
			From            time.Time `json:"from"`
			To              time.Time `json:"to"`
			ReplaceExisting bool      `json:"replace_existing"`
			DryRun          bool      `json:"dry_run"`
		}
		if err := c.BodyParser(&body); err != nil || body.From.IsZero() || body.To.IsZero() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "from and to are required"})
		}
		id := c.Params("id")
		report, err := d.Importer.Run(c.Context(), d.Appliances[id], d.Prices(id), importer.Options{
			From:            body.From,
			To:              body.To,
			ReplaceExisting: body.ReplaceExisting,
			DryRun:          body.DryRun,
		})
		if err != nil {
			d.Log.Error().Err(err).Msg("import failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "import failed"})
		}
		return c.JSON(report)
	})

	g.Post("/export", func(c *fiber.Ctx) error {
		if d.Exporter == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "export requires cloud services"})
		}
		format := export.Format(c.Query("format", string(export.FormatCSV)))
		q, err := historyQuery(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		q.IncludeImports = true
		res, err := d.History.Query(c.Context(), c.Params("id"), q)
		if err != nil {
			d.Log.Error().Err(err).Msg("export query failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "export failed"})
		}
		url, err := d.Exporter.Export(c.Context(), c.Params("id"), format, res.Cycles)
		if err != nil {
			d.Log.Error().Err(err).Msg("export upload failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "export failed"})
		}
		return c.JSON(fiber.Map{"url": url, "cycles": len(res.Cycles)})
	})
}

// historyQuery parses the shared range/filter query parameters. The range
// defaults to the last 30 days.
func historyQuery(c *fiber.Ctx) (history.Query, error) {
	q := history.Query{
		To:             time.Now(),
		MinDurationMin: fiberFloat(c, "min_duration"),
		MaxDurationMin: fiberFloat(c, "max_duration"),
		MinEnergyKWH:   fiberFloat(c, "min_energy"),
		MaxEnergyKWH:   fiberFloat(c, "max_energy"),
		IncludeImports: c.QueryBool("include_imports"),
		Limit:          c.QueryInt("limit"),
	}
	q.From = q.To.AddDate(0, 0, -30)

	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fiber.NewError(fiber.StatusBadRequest, "invalid from timestamp")
		}
		q.From = t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fiber.NewError(fiber.StatusBadRequest, "invalid to timestamp")
		}
		q.To = t
	}
	return q, nil
}

func fiberFloat(c *fiber.Ctx, key string) float64 {
	return c.QueryFloat(key, 0)
}
