package api

import (
	"time"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/entity"
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status      string    `json:"status"`
	Available   bool      `json:"available"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// StateResponse is returned from GET /api/v1/state
type StateResponse struct {
	Device      string             `json:"device"`
	State       *coordinator.State `json:"state"`
	LastUpdated time.Time          `json:"last_updated"`
}

// EntitiesResponse is returned from GET /api/v1/entities
type EntitiesResponse struct {
	Device   string            `json:"device"`
	Entities []entity.Snapshot `json:"entities"`
}

// CommandResponse is returned by the door, switch and refresh endpoints
type CommandResponse struct {
	Entity string `json:"entity,omitempty"`
	State  string `json:"state"`
}
