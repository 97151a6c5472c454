package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/leanworks/sigmachat/internal/quota"
	"github.com/leanworks/sigmachat/internal/rag"
	"github.com/leanworks/sigmachat/internal/store"
)

// ChatService runs one chat request end to end.
type ChatService interface {
	Chat(ctx context.Context, userID, query string) (rag.ChatResult, error)
}

type ChatHandler struct {
	Store *store.Store
	Orch  ChatService
	Quota *quota.Tracker
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(EchoAuthMiddleware(secret))
	g.POST("/chat", h.chat)
	g.GET("/chat/history", h.history)
	g.GET("/quota", h.quota)
}

func (h *ChatHandler) chat(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.Orch.Chat(c.Request().Context(), userID, req.Query)
	if err != nil {
		var exceeded quota.ErrExceeded
		switch {
		case errors.As(err, &exceeded):
			return echo.NewHTTPError(http.StatusTooManyRequests, exceeded.Error())
		case errors.Is(err, rag.ErrInvalidInput):
			return echo.NewHTTPError(http.StatusBadRequest, "query required")
		case errors.Is(err, rag.ErrServiceUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "completion service unavailable, try again later")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, ChatResponse{
		ExchangeID:       res.ExchangeID,
		Response:         res.Response,
		ContextFree:      res.ContextFree,
		Degraded:         res.Degraded,
		RemainingQueries: res.Remaining,
		Limit:            res.Limit,
	})
}

func (h *ChatHandler) history(c echo.Context) error {
	userID := c.Get("user_id").(string)
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1-200")
		}
		limit = n
	}
	items, err := h.Store.ListChatExchanges(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, HistoryResponse{Exchanges: items})
}

func (h *ChatHandler) quota(c echo.Context) error {
	userID := c.Get("user_id").(string)
	d, err := h.Quota.Status(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, QuotaResponse{
		Limit:       d.Limit,
		Used:        d.Limit - d.Remaining,
		Remaining:   d.Remaining,
		WindowStart: d.WindowStart.Format("2006-01-02"),
		LastQueryAt: d.LastQueryAt,
	})
}
