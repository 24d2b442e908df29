package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ticket-admission/security"
	"ticket-admission/services"
	"ticket-admission/utils"
)

// OpsHandler serves the operator sidecar: health, metrics and the
// admin dashboard/sweep endpoints.
type OpsHandler struct {
	redis     *redis.Client
	store     services.WaitingListStore
	scheduler *services.OfferScheduler
}

func NewOpsHandler(redisClient *redis.Client, store services.WaitingListStore, scheduler *services.OfferScheduler) *OpsHandler {
	return &OpsHandler{
		redis:     redisClient,
		store:     store,
		scheduler: scheduler,
	}
}

// NewOpsServer builds the echo server for the ops sidecar.
func NewOpsServer(h *OpsHandler, adminKeyHash string) *echo.Echo {
	e := echo.New()

	e.GET("/health", h.Health)
	e.GET("/metrics", func(c echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	admin := e.Group("/admin", security.AdminAuth(adminKeyHash))
	admin.GET("/dashboard", h.Dashboard)
	admin.POST("/sweep", h.ForceSweep)

	return e
}

func (h *OpsHandler) Health(c echo.Context) error {
	if err := utils.RedisHealthCheck(h.redis); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Dashboard aggregates live queue depth per event.
func (h *OpsHandler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()

	waitingEvents, err := h.store.WaitingEventIDs(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	offeredEvents, err := h.store.OfferedEventIDs(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	events := map[string]map[string]int{}
	for _, eventID := range waitingEvents {
		count, err := h.store.WaitingCount(ctx, eventID)
		if err != nil {
			continue
		}
		events[eventID] = map[string]int{"waiting": count}
	}
	now := time.Now()
	for _, eventID := range offeredEvents {
		live, err := h.store.ActiveOfferCount(ctx, eventID, now)
		if err != nil {
			continue
		}
		due, err := h.store.DueOffers(ctx, eventID, now)
		if err != nil {
			continue
		}
		stats, ok := events[eventID]
		if !ok {
			stats = map[string]int{}
			events[eventID] = stats
		}
		stats["active_offers"] = live
		stats["lapsed_offers"] = len(due)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
	})
}

// ForceSweep runs an expiry sweep immediately.
func (h *OpsHandler) ForceSweep(c echo.Context) error {
	h.scheduler.Sweep(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]string{"status": "sweep completed"})
}
