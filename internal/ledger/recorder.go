package ledger

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/eventbus"
)

// Subscriber is the part of the event bus the recorder needs.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler)
}

// Record subscribes the ledger to command and refresh-failure events.
func (l *Ledger) Record(bus Subscriber, device string) {
	bus.Subscribe(eventbus.EventTypeCommandCompleted, func(e eventbus.Event) {
		l.appendEvent(EventCommandCompleted, device, e)
	})
	bus.Subscribe(eventbus.EventTypeCommandFailed, func(e eventbus.Event) {
		l.appendEvent(EventCommandFailed, device, e)
	})
	bus.Subscribe(eventbus.EventTypeRefreshFailed, func(e eventbus.Event) {
		l.appendEvent(EventRefreshFailed, device, e)
	})
}

func (l *Ledger) appendEvent(eventType EventType, device string, e eventbus.Event) {
	payload := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if err, ok := v.(error); ok {
			payload[k] = err.Error()
			continue
		}
		payload[k] = v
	}

	commandID, _ := e.Data["command_id"].(string)
	source, _ := e.Data["source"].(string)
	delete(payload, "command_id")

	if err := l.AppendWithSource(eventType, commandID, source, device, payload); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to append ledger entry")
	}
}
