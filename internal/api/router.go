package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/marketlive/internal/app"
	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/internal/chat"
	"github.com/charlesng35/marketlive/internal/middleware"
	"github.com/charlesng35/marketlive/internal/monitoring"
	"github.com/charlesng35/marketlive/internal/notifications"
	"github.com/charlesng35/marketlive/internal/realtime"
	"github.com/charlesng35/marketlive/internal/services"
)

// Dependencies bundles everything the router wires into handlers.
type Dependencies struct {
	Config        *app.Config
	Live          *services.LiveService
	Notifications *notifications.Store
	Chat          *chat.Session
	Hub           *realtime.Hub
	Health        *monitoring.HealthManager
	// RateStore backs the rate limiter. Nil disables limiting.
	RateStore cache.Store
}

// NewRouter builds the Gin engine, wires middleware and registers the local API.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Live == nil {
		return nil, fmt.Errorf("live service must be provided")
	}

	prom := deps.Config.Monitoring.Prometheus
	metricsEndpoint := strings.TrimSpace(prom.Endpoint)
	if metricsEndpoint == "" {
		metricsEndpoint = "/metrics"
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger("/health", metricsEndpoint))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	registerHealthRoutes(r, deps)

	if prom.Enabled {
		r.GET(metricsEndpoint, gin.WrapH(promhttp.Handler()))
	}

	limit := deps.Config.Server.RateLimit
	api := r.Group("/api")
	api.Use(middleware.RateLimit(deps.RateStore, limit.Requests, limit.Window))

	if err := registerSessionRoutes(api, deps.Live); err != nil {
		return nil, err
	}
	if err := registerNotificationRoutes(api, deps.Notifications); err != nil {
		return nil, err
	}
	if err := registerConversationRoutes(api, deps.Chat); err != nil {
		return nil, err
	}
	registerRealtimeRoutes(r, deps.Hub)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
