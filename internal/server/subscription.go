package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leanworks/sigmachat/internal/store"
	"github.com/leanworks/sigmachat/models"
)

type SubscriptionHandler struct {
	Store *store.Store
}

func (h *SubscriptionHandler) Register(g *echo.Group, secret []byte) {
	// plan catalog is public, everything else needs auth
	g.GET("/plans", h.plans)

	authed := g.Group("")
	authed.Use(EchoAuthMiddleware(secret))
	authed.GET("/me", h.me)
	authed.POST("/subscribe", h.subscribe)
}

func (h *SubscriptionHandler) plans(c echo.Context) error {
	plans, err := h.Store.ListPlans(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plans": plans})
}

func (h *SubscriptionHandler) me(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	sub, ok, err := h.Store.GetActiveSubscription(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no active subscription")
	}
	plan, ok, err := h.Store.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "subscription references unknown plan")
	}
	return c.JSON(http.StatusOK, SubscriptionResponse{Subscription: sub, Plan: plan})
}

// subscribe switches the caller to a new plan. Any active subscription is
// canceled in the same transaction as the insert.
func (h *SubscriptionHandler) subscribe(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PlanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan_id required")
	}
	period := models.BillingPeriod(req.BillingPeriod)
	switch period {
	case "":
		period = models.BillingMonthly
	case models.BillingMonthly, models.BillingYearly, models.BillingLifetime:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "billing_period must be monthly, yearly or lifetime")
	}

	ctx := c.Request().Context()
	plan, ok, err := h.Store.GetPlanByID(ctx, req.PlanID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}

	start := time.Now().UTC()
	var end *time.Time
	switch period {
	case models.BillingMonthly:
		e := start.AddDate(0, 1, 0)
		end = &e
	case models.BillingYearly:
		e := start.AddDate(1, 0, 0)
		end = &e
	}
	id, err := h.Store.CreateSubscription(ctx, userID, plan.ID, period, start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id, "plan_id": plan.ID})
}
