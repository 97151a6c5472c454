package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/leanworks/sigmachat/internal/kb"
	"github.com/leanworks/sigmachat/repository/redis_repository"
)

// DocsHandler serves the knowledge-base browser: listing, rendered
// documents, and lexical search. Rendered documents are cached in Redis
// when a cache is configured.
type DocsHandler struct {
	Library *kb.Library
	Index   *kb.SearchIndex
	Cache   *redis_repository.DocumentCache
	Logger  *log.Logger
}

func (h *DocsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(EchoAuthMiddleware(secret))
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/content/*", h.content)
}

func (h *DocsHandler) list(c echo.Context) error {
	docs, err := h.Library.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"documents": docs, "total": len(docs)})
}

func (h *DocsHandler) content(c echo.Context) error {
	path := c.Param("*")
	ctx := c.Request().Context()

	if h.Cache != nil {
		var cached kb.Document
		if err := h.Cache.Get(ctx, path, &cached); err == nil {
			return c.JSON(http.StatusOK, cached)
		}
	}

	doc, err := h.Library.Get(path)
	if err != nil {
		if errors.Is(err, kb.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if h.Cache != nil {
		if err := h.Cache.Set(ctx, path, doc); err != nil && h.Logger != nil {
			h.Logger.Printf("cache set %s: %v", path, err)
		}
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *DocsHandler) search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k := 10
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1-50")
		}
		k = n
	}
	hits, err := h.Index.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"query": q, "hits": hits})
}
