package app

import (
	"context"

	"github.com/dokzlo13/petwalkd/internal/config"
	"github.com/dokzlo13/petwalkd/internal/db"
	"github.com/dokzlo13/petwalkd/internal/kv"
	"github.com/dokzlo13/petwalkd/internal/ledger"
	"github.com/dokzlo13/petwalkd/internal/metrics"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Metrics *metrics.Metrics

	// High-level services
	Device      *DeviceService
	Maintenance *MaintenanceService
	Lua         *LuaService // nil without a script
	Health      *HealthService
	API         *APIService
	MQTT        *MQTTService    // nil when disabled
	History     *HistoryService // nil when disabled
}

// NewServices creates all services with proper dependency injection.
// Nothing here talks to the network; broker and database connections happen in Start.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	store := kv.New(database.DB, cfg.Device.GetName())
	s.Maintenance = NewMaintenanceService(cfg, ledger.New(database.DB), store)
	s.Device = NewDeviceService(cfg)
	s.Metrics = metrics.New(cfg.Device.GetName())

	s.Lua, err = NewLuaService(cfg, s.Device.Coordinator, store)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Health = NewHealthService(cfg, s.Device.Coordinator, s.Metrics)
	s.API = NewAPIService(cfg, s.Device.Coordinator)

	return s, nil
}

// Start connects the optional integrations, subscribes every consumer to the
// event bus, performs the first refresh and then starts background work.
func (s *Services) Start(ctx context.Context) error {
	var err error

	if s.History, err = NewHistoryService(ctx, s.cfg); err != nil {
		return err
	}
	if s.MQTT, err = NewMQTTService(s.cfg, s.Device.Coordinator); err != nil {
		return err
	}

	// Subscribers must be in place before Initialize publishes the first state
	bus := s.Device.Bus
	s.Maintenance.Attach(bus)
	s.Metrics.Attach(bus)
	if s.History != nil {
		s.History.Attach(bus)
	}
	if s.MQTT != nil {
		s.MQTT.Attach(bus)
	}
	if s.Lua != nil {
		if err := s.Lua.LoadScript(); err != nil {
			return err
		}
		s.Lua.Attach(bus)
		s.Lua.Start(ctx)
	}

	if err := s.Device.Start(ctx); err != nil {
		return err
	}

	if s.MQTT != nil {
		if err := s.MQTT.Start(); err != nil {
			return err
		}
	}

	s.Device.StartBackground(ctx)
	s.Maintenance.Start(ctx)
	s.Health.Start(ctx)
	s.API.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
// The bus drains before the MQTT and InfluxDB clients it feeds are closed.
func (s *Services) Close() {
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Device != nil {
		s.Device.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.History != nil {
		s.History.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
