package series

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/basilbot/basil/internal/apperror"
	"github.com/basilbot/basil/internal/plugins/snippets"
)

// Handler handles HTTP requests for series operations. Handlers are thin:
// bind request, call service or resolver, render response. No business
// logic lives here.
type Handler struct {
	service  SeriesService
	resolver Resolver
	baseURL  string
}

// NewHandler creates a series handler backed by the given service and
// resolver. baseURL is used to build public view links.
func NewHandler(service SeriesService, resolver Resolver, baseURL string) *Handler {
	return &Handler{service: service, resolver: resolver, baseURL: baseURL}
}

// --- Request / response shapes ---

// CreateSeriesRequest is the POST /api/series body.
type CreateSeriesRequest struct {
	Tag      string             `json:"tag"`
	Title    string             `json:"title"`
	AuthorID string             `json:"author_id"`
	Snippets []snippets.Snippet `json:"snippets"`
}

// RenameSeriesRequest is the PUT /api/series/:tag/tag body.
type RenameSeriesRequest struct {
	NewTag string `json:"new_tag"`
}

// RetitleSeriesRequest is the PUT /api/series/:tag/title body.
type RetitleSeriesRequest struct {
	Title string `json:"title"`
}

// AppendSnippetsRequest is the POST /api/series/:tag/snippets body.
type AppendSnippetsRequest struct {
	Snippets []snippets.Snippet `json:"snippets"`
}

// ReorderSnippetsRequest is the PUT /api/series/:tag/snippets body.
type ReorderSnippetsRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// SeriesSummary is the list/search representation of a series: everything
// but snippet content.
type SeriesSummary struct {
	Tag         string   `json:"tag"`
	Title       string   `json:"title"`
	AuthorIDs   []string `json:"author_ids"`
	Subscribers []string `json:"subscribers"`
	NumSnippets int      `json:"n_snippets"`
	Wordcount   int      `json:"wordcount"`
	URL         string   `json:"url"`
	Updated     *int64   `json:"updated"`
}

// SeriesDetail is the single-series representation including content.
type SeriesDetail struct {
	SeriesSummary
	Snippets []snippets.Snippet `json:"snippets"`
}

// summarize builds the wire representation of a series.
func (h *Handler) summarize(s *Series) SeriesSummary {
	sum := SeriesSummary{
		Tag:         s.Tag,
		Title:       s.Title,
		AuthorIDs:   s.AuthorIDs,
		Subscribers: s.Subscribers,
		NumSnippets: len(s.Snippets),
		Wordcount:   s.Wordcount(),
		URL:         h.viewURL(s.Tag),
	}
	if !s.UpdateTime.IsZero() {
		updated := s.UpdateTime.Unix()
		sum.Updated = &updated
	}
	if sum.AuthorIDs == nil {
		sum.AuthorIDs = []string{}
	}
	if sum.Subscribers == nil {
		sum.Subscribers = []string{}
	}
	return sum
}

// detail builds the full wire representation including snippet content.
func (h *Handler) detail(s *Series) SeriesDetail {
	return SeriesDetail{
		SeriesSummary: h.summarize(s),
		Snippets:      s.Snippets,
	}
}

// viewURL builds the public link for a series tag.
func (h *Handler) viewURL(tag string) string {
	return h.baseURL + "/series/" + url.PathEscape(tag)
}

// tagParam extracts and unescapes the :tag path parameter.
func tagParam(c echo.Context) (string, error) {
	tag, err := url.PathUnescape(c.Param("tag"))
	if err != nil || tag == "" {
		return "", apperror.NewBadRequest("invalid series tag")
	}
	return tag, nil
}

// --- Handlers ---

// ListSeries returns summaries of all series (GET /api/series).
func (h *Handler) ListSeries(c echo.Context) error {
	all, err := h.service.List(c.Request().Context())
	if err != nil {
		return err
	}

	summaries := make([]SeriesSummary, 0, len(all))
	for _, s := range all {
		summaries = append(summaries, h.summarize(s))
	}
	return c.JSON(http.StatusOK, summaries)
}

// GetSeries returns one series with snippet content (GET /api/series/:tag).
func (h *Handler) GetSeries(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	s, err := h.service.Get(c.Request().Context(), tag)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.detail(s))
}

// CreateSeries starts a new series (POST /api/series).
func (h *Handler) CreateSeries(c echo.Context) error {
	var req CreateSeriesRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid JSON body")
	}

	s, err := h.service.Create(c.Request().Context(), CreateInput{
		Tag:      req.Tag,
		Title:    req.Title,
		AuthorID: req.AuthorID,
		Snippets: req.Snippets,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, h.detail(s))
}

// DeleteSeries removes a series (DELETE /api/series/:tag).
func (h *Handler) DeleteSeries(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	if err := h.service.Delete(c.Request().Context(), tag); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RenameSeries changes a series tag (PUT /api/series/:tag/tag).
func (h *Handler) RenameSeries(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	var req RenameSeriesRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid JSON body")
	}
	if req.NewTag == "" {
		return apperror.NewBadRequest("new_tag is required")
	}

	s, err := h.service.Rename(c.Request().Context(), tag, req.NewTag)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.detail(s))
}

// RetitleSeries changes a series title (PUT /api/series/:tag/title).
func (h *Handler) RetitleSeries(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	var req RetitleSeriesRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid JSON body")
	}

	s, err := h.service.Retitle(c.Request().Context(), tag, req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.detail(s))
}

// AppendSnippets adds snippets to a series (POST /api/series/:tag/snippets).
func (h *Handler) AppendSnippets(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	var req AppendSnippetsRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid JSON body")
	}

	s, err := h.service.AppendSnippets(c.Request().Context(), tag, req.Snippets)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.detail(s))
}

// ReorderSnippets rewrites a series' snippet order (PUT /api/series/:tag/snippets).
func (h *Handler) ReorderSnippets(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	var req ReorderSnippetsRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid JSON body")
	}

	s, err := h.service.ReorderSnippets(c.Request().Context(), tag, req.MessageIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.detail(s))
}

// Subscribe adds a subscriber (PUT /api/series/:tag/subscribers/:userId).
func (h *Handler) Subscribe(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	s, err := h.service.Subscribe(c.Request().Context(), tag, c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.summarize(s))
}

// Unsubscribe removes a subscriber (DELETE /api/series/:tag/subscribers/:userId).
func (h *Handler) Unsubscribe(c echo.Context) error {
	tag, err := tagParam(c)
	if err != nil {
		return err
	}

	s, err := h.service.Unsubscribe(c.Request().Context(), tag, c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.summarize(s))
}

// SearchByTag returns series whose normalized tag contains the query
// (GET /api/series/search/tag?q=).
func (h *Handler) SearchByTag(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return apperror.NewBadRequest("query parameter q is required")
	}

	found, err := h.resolver.FindByTagSubstring(c.Request().Context(), query)
	if err != nil {
		return err
	}

	summaries := make([]SeriesSummary, 0, len(found))
	for _, s := range found {
		summaries = append(summaries, h.summarize(s))
	}
	return c.JSON(http.StatusOK, summaries)
}

// SearchByTitle returns series grouped by matched normalized title
// (GET /api/series/search/title?q=).
func (h *Handler) SearchByTitle(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return apperror.NewBadRequest("query parameter q is required")
	}

	groups, err := h.resolver.FindByTitleSubstring(c.Request().Context(), query)
	if err != nil {
		return err
	}

	out := make(map[string][]SeriesSummary, len(groups))
	for normTitle, bucket := range groups {
		summaries := make([]SeriesSummary, 0, len(bucket))
		for _, s := range bucket {
			summaries = append(summaries, h.summarize(s))
		}
		out[normTitle] = summaries
	}
	return c.JSON(http.StatusOK, out)
}

// ResolveSeries disambiguates a short query for an author
// (GET /api/series/resolve?q=&author=). Zero or multiple candidates are a
// 404; the search endpoints exist for listing alternatives.
func (h *Handler) ResolveSeries(c echo.Context) error {
	query := c.QueryParam("q")
	author := c.QueryParam("author")
	if query == "" || author == "" {
		return apperror.NewBadRequest("query parameters q and author are required")
	}

	s, err := h.resolver.Resolve(c.Request().Context(), query, author)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.detail(s))
}
