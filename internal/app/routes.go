package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/basilbot/basil/internal/middleware"
	"github.com/basilbot/basil/internal/plugins/series"
	"github.com/basilbot/basil/internal/plugins/snippets"
)

// RegisterRoutes wires the repositories, services, and handlers and sets up
// all application routes. This is the single place where routes are
// aggregated.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// Health check endpoint for container health monitoring. Pings Redis
	// so orchestrators notice a dead store, not just a live listener.
	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	snippetRepo := snippets.NewSnippetRepository(a.Redis)
	seriesRepo := series.NewSeriesRepository(a.Redis, snippetRepo)
	seriesSvc := series.NewSeriesService(seriesRepo, snippetRepo)
	resolver := series.NewResolver(a.Redis, seriesRepo, nil)

	seriesHandler := series.NewHandler(seriesSvc, resolver, a.Config.BaseURL)
	series.RegisterRoutes(e, seriesHandler,
		middleware.RateLimit(a.Config.RateLimit.MaxRequests, a.Config.RateLimit.Window))
}
