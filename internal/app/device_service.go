package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/petwalkd/internal/config"
	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

// DeviceService wraps the appliance client, the event bus and the coordinator.
type DeviceService struct {
	cfg *config.Config

	Client      *petwalk.Client
	Bus         *eventbus.Bus
	Coordinator *coordinator.Coordinator
}

// NewDeviceService creates the device components without contacting the appliance.
func NewDeviceService(cfg *config.Config) *DeviceService {
	client := petwalk.NewClient(
		cfg.Device.Host,
		cfg.Device.Port,
		cfg.Device.Username,
		cfg.Device.Password,
		cfg.Device.Timeout.Duration(),
	)

	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Burst of 1: writes go out one at a time at most RateLimitRPS per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.Coordinator.RateLimitRPS), 1)

	coord := coordinator.New(client, cfg.Device.GetName(), cfg.Device.Host, coordinator.Options{
		UpdateInterval:   cfg.Coordinator.UpdateInterval.Duration(),
		RefreshTimeout:   cfg.Coordinator.RefreshTimeout.Duration(),
		SettleDelay:      cfg.Coordinator.SettleDelay.Duration(),
		PowerSettleDelay: cfg.Coordinator.PowerSettleDelay.Duration(),
		Limiter:          limiter,
		Bus:              bus,
		OnPhase: func(cmd coordinator.Command, phase coordinator.Phase) {
			log.Debug().
				Str("command_id", cmd.ID).
				Str("key", cmd.Key).
				Str("phase", phase.String()).
				Msg("Command phase")
		},
	})

	return &DeviceService{
		cfg:         cfg,
		Client:      client,
		Bus:         bus,
		Coordinator: coord,
	}
}

// Start probes the appliance and performs the first refresh.
// Failure here is fatal to startup.
func (s *DeviceService) Start(ctx context.Context) error {
	if s.cfg.Device.IncludeAllEvents {
		log.Debug().Msg("include_all_events is set but has no effect on the local API")
	}
	if err := s.Coordinator.Initialize(ctx); err != nil {
		return err
	}
	log.Info().
		Str("device", s.cfg.Device.GetName()).
		Str("address", s.Client.Address()).
		Msg("Connected to PetWALK")
	return nil
}

// StartBackground starts the polling loop.
func (s *DeviceService) StartBackground(ctx context.Context) {
	go func() {
		if err := s.Coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Coordinator stopped")
		}
	}()
}

// Close drains the event bus and releases the HTTP client.
func (s *DeviceService) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Client != nil {
		s.Client.Close()
	}
}
