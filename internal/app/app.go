// Package app wires the PetWALK coordinator to its adapters and runs them
// until a shutdown signal arrives.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/config"
)

// App owns one door's services: the coordinator and every adapter fed by it.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New opens the ledger database and builds the services without contacting
// the door or any broker.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start connects the integrations, performs the first refresh and starts polling.
// A door that cannot be reached here is a startup failure.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	s := a.services
	log.Info().
		Str("device", a.cfg.Device.GetName()).
		Dur("update_interval", a.cfg.Coordinator.UpdateInterval.Duration()).
		Bool("api", a.cfg.API.Enabled).
		Bool("mqtt", s.MQTT != nil).
		Bool("influxdb", s.History != nil).
		Bool("lua", s.Lua != nil).
		Msg("petwalkd started")
	return nil
}

// Stop cancels polling and releases the services in dependency order.
func (a *App) Stop() error {
	log.Info().Str("device", a.cfg.Device.GetName()).Msg("Shutting down")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		signal.Stop(sigChan)
		cancel()
	}()

	return ctx
}
