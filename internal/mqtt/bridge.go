package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/entity"
	"github.com/dokzlo13/petwalkd/internal/eventbus"
)

// Switch state payloads. Covers publish entity.StateOpen / entity.StateClosed.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Publisher is the broker side of the bridge. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// Subscriber is the part of the event bus the bridge listens on.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler)
}

// Bridge mirrors coordinator state onto retained topics and turns set-topic
// messages into coordinator commands.
type Bridge struct {
	pub     Publisher
	cmd     entity.Commander
	topics  Topics
	timeout time.Duration

	mu     sync.Mutex
	last   map[string]string // entity id -> last published payload
	online *bool
	latest coordinator.Latest
}

// NewBridge creates a bridge. timeout bounds each command issued from MQTT.
func NewBridge(pub Publisher, cmd entity.Commander, topics Topics, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		pub:     pub,
		cmd:     cmd,
		topics:  topics,
		timeout: timeout,
		last:    make(map[string]string),
	}
}

// Attach subscribes the bridge to state and refresh-failure events.
// Events overtaken by a newer refresh outcome are dropped, so a late
// state or offline never overwrites a newer retained message.
func (b *Bridge) Attach(bus Subscriber) {
	bus.Subscribe(eventbus.EventTypeStateUpdated, func(e eventbus.Event) {
		s, _ := e.Data["state"].(*coordinator.State)
		if s == nil {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.latest.Accept(e) {
			return
		}
		b.publishAvailability(true)
		b.publishState(s)
	})
	bus.Subscribe(eventbus.EventTypeRefreshFailed, func(e eventbus.Event) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.latest.Accept(e) {
			return
		}
		b.publishAvailability(false)
	})
}

// Listen subscribes to every entity's set topic.
func (b *Bridge) Listen() error {
	topic := b.topics.AllSet()
	if err := b.pub.Subscribe(topic, b.HandleSet); err != nil {
		return err
	}
	log.Info().Str("topic", topic).Msg("Listening for MQTT commands")
	return nil
}

// PublishState publishes entity states that changed since the last call.
func (b *Bridge) PublishState(s *coordinator.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishState(s)
}

func (b *Bridge) publishState(s *coordinator.State) {
	for _, d := range entity.All() {
		payload := StatePayload(d, s)
		if b.last[d.ID] == payload {
			continue
		}
		if err := b.pub.Publish(b.topics.State(d.ID), []byte(payload), true); err != nil {
			log.Warn().Err(err).Str("entity", d.ID).Msg("Failed to publish entity state")
			continue
		}
		b.last[d.ID] = payload
	}
}

// PublishAvailability publishes online/offline when it changes.
func (b *Bridge) PublishAvailability(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishAvailability(online)
}

func (b *Bridge) publishAvailability(online bool) {
	if b.online != nil && *b.online == online {
		return
	}
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	if err := b.pub.Publish(b.topics.Availability(), []byte(payload), true); err != nil {
		log.Warn().Err(err).Msg("Failed to publish availability")
		return
	}
	b.online = &online
}

// HandleSet executes a command received on an entity set topic.
func (b *Bridge) HandleSet(topic string, payload []byte) error {
	id, ok := b.topics.EntityFromSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, topic)
	}
	d, ok := entity.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	on, err := ParseCommand(d.Kind, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	log.Debug().Str("entity", d.ID).Bool("on", on).Msg("MQTT command received")
	return d.Turn(coordinator.WithSource(ctx, "mqtt"), b.cmd, on)
}

// StatePayload renders an entity's retained state payload.
func StatePayload(d entity.Description, s *coordinator.State) string {
	if d.Kind == entity.KindCover {
		return d.StateOf(s)
	}
	if entity.IsOn(s, d.Key) {
		return PayloadOn
	}
	return PayloadOff
}

// ParseCommand maps a set payload onto on/off. Switches take ON/OFF, the door
// takes OPEN/CLOSE; both are case-insensitive.
func ParseCommand(kind entity.Kind, payload []byte) (bool, error) {
	p := strings.ToUpper(strings.TrimSpace(string(payload)))
	switch {
	case kind == entity.KindSwitch && p == PayloadOn:
		return true, nil
	case kind == entity.KindSwitch && p == PayloadOff:
		return false, nil
	case kind == entity.KindCover && p == "OPEN":
		return true, nil
	case kind == entity.KindCover && p == "CLOSE":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q for %s", ErrInvalidPayload, p, kind)
}
