package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/config"
	"github.com/dokzlo13/petwalkd/internal/entity"
	"github.com/dokzlo13/petwalkd/internal/mqtt"
)

// MQTTService mirrors entity state to a broker and accepts commands from it.
type MQTTService struct {
	Client *mqtt.Client
	Bridge *mqtt.Bridge
}

// NewMQTTService connects to the broker. Returns nil when MQTT is disabled.
func NewMQTTService(cfg *config.Config, cmd entity.Commander) (*MQTTService, error) {
	if !cfg.MQTT.Enabled {
		return nil, nil
	}

	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Device.GetName())
	client, err := mqtt.Connect(cfg.MQTT, topics.Availability())
	if err != nil {
		return nil, err
	}

	return &MQTTService{
		Client: client,
		Bridge: mqtt.NewBridge(client, cmd, topics, cfg.Coordinator.RefreshTimeout.Duration()),
	}, nil
}

// Attach publishes state on every refresh. Must run before the first refresh.
func (s *MQTTService) Attach(bus mqtt.Subscriber) {
	s.Bridge.Attach(bus)
}

// Start subscribes to command topics.
func (s *MQTTService) Start() error {
	return s.Bridge.Listen()
}

// Close publishes offline and disconnects.
func (s *MQTTService) Close() {
	if err := s.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("MQTT close error")
	}
}
