package indexer

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// Handlers provides HTTP handlers for provider operations.
type Handlers struct {
	registry *Registry
}

// NewHandlers creates new provider handlers.
func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// RegisterRoutes registers the provider routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/definitions", h.ListDefinitions)
	g.GET("/:name", h.Get)
	g.POST("/:name/search", h.Search)
	g.GET("/:name/cache", h.CacheSearch)
	g.POST("/:name/reset", h.Reset)
}

// SearchInput is the body of a search call.
type SearchInput struct {
	Request []struct {
		Mode   string   `json:"mode"`
		Tokens []string `json:"tokens"`
	} `json:"request"`
}

// toRequest validates modes and merges repeated modes in first-seen order.
func (in SearchInput) toRequest() (types.SearchRequest, error) {
	req := types.SearchRequest{}
	for _, entry := range in.Request {
		mode, err := types.ParseMode(entry.Mode)
		if err != nil {
			return nil, err
		}
		req = req.Add(mode, entry.Tokens...)
	}
	return req, nil
}

// List returns the registered providers.
// GET /api/v1/providers
func (h *Handlers) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.List())
}

// ListDefinitions returns every available descriptor, enabled or not.
// GET /api/v1/providers/definitions
func (h *Handlers) ListDefinitions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.Catalog().List())
}

// Get returns one provider.
// GET /api/v1/providers/:name
func (h *Handlers) Get(c echo.Context) error {
	p, err := h.registry.Get(c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p.Info())
}

// Search runs a search request on one provider.
// POST /api/v1/providers/:name/search
func (h *Handlers) Search(c echo.Context) error {
	var input SearchInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req, err := input.toRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	batch, err := h.registry.Search(c.Request().Context(), c.Param("name"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, batch)
}

// CacheSearch runs the provider-default tokens.
// GET /api/v1/providers/:name/cache
func (h *Handlers) CacheSearch(c echo.Context) error {
	batch, err := h.registry.CacheSearch(c.Request().Context(), c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, batch)
}

// Reset clears saved cookies and backoff state.
// POST /api/v1/providers/:name/reset
func (h *Handlers) Reset(c echo.Context) error {
	if err := h.registry.ResetSession(c.Request().Context(), c.Param("name")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrProviderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
