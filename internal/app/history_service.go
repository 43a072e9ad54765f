package app

import (
	"context"

	"github.com/dokzlo13/petwalkd/internal/config"
	"github.com/dokzlo13/petwalkd/internal/history"
)

// HistoryService writes state and command history to InfluxDB.
type HistoryService struct {
	Client   *history.Client
	Recorder *history.Recorder
}

// NewHistoryService connects to InfluxDB. Returns nil when history is disabled.
func NewHistoryService(ctx context.Context, cfg *config.Config) (*HistoryService, error) {
	if !cfg.InfluxDB.Enabled {
		return nil, nil
	}

	client, err := history.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, err
	}

	return &HistoryService{
		Client:   client,
		Recorder: history.NewRecorder(client.WriteAPI(), cfg.Device.GetName()),
	}, nil
}

// Attach records every coordinator event. Must run before the first refresh.
func (s *HistoryService) Attach(bus history.Subscriber) {
	s.Recorder.Attach(bus)
}

// Close flushes pending points and closes the client.
func (s *HistoryService) Close() {
	s.Client.Close()
}
