package mqtt

import (
	"fmt"
	"strings"
)

// Payloads for the availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the topic tree for one device:
//
//	<prefix>/<device>/availability
//	<prefix>/<device>/<entity>/state
//	<prefix>/<device>/<entity>/set
type Topics struct {
	Prefix string
	Device string
}

// NewTopics returns topic builders for device under prefix. The device name
// is lower-cased with spaces and MQTT wildcards replaced by underscores.
func NewTopics(prefix, device string) Topics {
	return Topics{
		Prefix: strings.TrimSuffix(prefix, "/"),
		Device: slug(device),
	}
}

// Availability returns the retained online/offline topic.
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, t.Device)
}

// State returns the retained state topic for an entity.
func (t Topics) State(entityID string) string {
	return fmt.Sprintf("%s/%s/%s/state", t.Prefix, t.Device, entityID)
}

// Set returns the command topic for an entity.
func (t Topics) Set(entityID string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.Prefix, t.Device, entityID)
}

// AllSet matches every entity command topic of the device.
func (t Topics) AllSet() string {
	return fmt.Sprintf("%s/%s/+/set", t.Prefix, t.Device)
}

// EntityFromSet extracts the entity id from a command topic.
func (t Topics) EntityFromSet(topic string) (string, bool) {
	base := fmt.Sprintf("%s/%s/", t.Prefix, t.Device)
	rest, ok := strings.CutPrefix(topic, base)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
