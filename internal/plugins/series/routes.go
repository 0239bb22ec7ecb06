package series

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all series routes on the given Echo instance.
// Search and resolve routes are registered before the :tag routes so the
// literal "search"/"resolve" segments never bind as a tag. Any extra
// middleware (e.g. the write rate limiter) applies to the whole group.
//
// Author display-name resolution and permission checks belong to the
// chat-platform callers; this API exposes the raw author ids.
func RegisterRoutes(e *echo.Echo, h *Handler, m ...echo.MiddlewareFunc) {
	g := e.Group("/api/series", m...)

	// Read routes.
	g.GET("", h.ListSeries)
	g.GET("/search/tag", h.SearchByTag)
	g.GET("/search/title", h.SearchByTitle)
	g.GET("/resolve", h.ResolveSeries)
	g.GET("/:tag", h.GetSeries)

	// Write routes.
	g.POST("", h.CreateSeries)
	g.DELETE("/:tag", h.DeleteSeries)
	g.PUT("/:tag/tag", h.RenameSeries)
	g.PUT("/:tag/title", h.RetitleSeries)
	g.POST("/:tag/snippets", h.AppendSnippets)
	g.PUT("/:tag/snippets", h.ReorderSnippets)
	g.PUT("/:tag/subscribers/:userId", h.Subscribe)
	g.DELETE("/:tag/subscribers/:userId", h.Unsubscribe)
}
