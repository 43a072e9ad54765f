// Package api exposes the coordinator over a small REST surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
)

// Device is the coordinator as seen by the REST handlers.
// *coordinator.Coordinator implements it.
type Device interface {
	State() *coordinator.State
	DeviceInfo() coordinator.DeviceInfo
	LastUpdateSuccess() bool
	LastError() error
	LastUpdated() time.Time
	RequestRefresh(ctx context.Context) error
	SetMode(ctx context.Context, key string, value bool) error
	SetState(ctx context.Context, key string, value bool) error
}

// Router holds the Gin engine and dependencies
type Router struct {
	engine *gin.Engine
	device Device
}

// NewRouter creates a new API router
func NewRouter(device Device, corsOrigins []string) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine, corsOrigins)

	router := &Router{
		engine: engine,
		device: device,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	h := &handlers{device: r.device}

	r.engine.GET("/health", h.health)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/device", h.deviceInfo)
		v1.GET("/state", h.state)
		v1.GET("/entities", h.entities)
		v1.POST("/refresh", h.refresh)

		door := v1.Group("/door")
		{
			door.POST("/open", h.door(true))
			door.POST("/close", h.door(false))
		}

		switches := v1.Group("/switches")
		{
			switches.POST("/:id/on", h.turnSwitch(true))
			switches.POST("/:id/off", h.turnSwitch(false))
		}
	}
}

// Handler returns the router as an http.Handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}
