package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/entity"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

type handlers struct {
	device Device
}

// health handles GET /health
func (h *handlers) health(c *gin.Context) {
	resp := HealthResponse{
		Status:      "healthy",
		Available:   h.device.LastUpdateSuccess(),
		LastUpdated: h.device.LastUpdated(),
	}
	httpStatus := http.StatusOK

	if !resp.Available {
		resp.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	if err := h.device.LastError(); err != nil {
		resp.LastError = err.Error()
	}

	c.JSON(httpStatus, resp)
}

// deviceInfo handles GET /api/v1/device
func (h *handlers) deviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.device.DeviceInfo())
}

// state handles GET /api/v1/state
func (h *handlers) state(c *gin.Context) {
	s := h.device.State()
	if s == nil {
		msg := "No successful refresh yet"
		if err := h.device.LastError(); err != nil {
			msg = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "not_ready",
			Message: msg,
		})
		return
	}

	c.JSON(http.StatusOK, StateResponse{
		Device:      h.device.DeviceInfo().Name,
		State:       s,
		LastUpdated: h.device.LastUpdated(),
	})
}

// entities handles GET /api/v1/entities
func (h *handlers) entities(c *gin.Context) {
	name := h.device.DeviceInfo().Name
	c.JSON(http.StatusOK, EntitiesResponse{
		Device:   name,
		Entities: entity.Snapshots(name, h.device.State(), h.device.LastUpdateSuccess()),
	})
}

// refresh handles POST /api/v1/refresh
func (h *handlers) refresh(c *gin.Context) {
	if err := h.device.RequestRefresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CommandResponse{State: "refreshed"})
}

// door handles POST /api/v1/door/{open,close}
func (h *handlers) door(open bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.turn(c, entity.Door, open)
	}
}

// turnSwitch handles POST /api/v1/switches/:id/{on,off}
func (h *handlers) turnSwitch(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := entity.Lookup(c.Param("id"))
		if !ok || d.Kind != entity.KindSwitch {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Switch not found",
			})
			return
		}
		h.turn(c, d, on)
	}
}

func (h *handlers) turn(c *gin.Context, d entity.Description, on bool) {
	ctx := coordinator.WithSource(c.Request.Context(), "api")
	if err := d.Turn(ctx, h.device, on); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CommandResponse{
		Entity: d.ID,
		State:  d.StateOf(h.device.State()),
	})
}

// writeError maps command and refresh failures onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var statusErr *petwalk.StatusError
	switch {
	case errors.Is(err, petwalk.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:   "timeout",
			Message: err.Error(),
		})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "device_rejected",
			Message: err.Error(),
		})
	case coordinator.IsUpdateFailed(err):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "update_failed",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "device_error",
			Message: err.Error(),
		})
	}
}
