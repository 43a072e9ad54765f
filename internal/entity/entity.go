// Package entity maps the canonical state onto the controllable things a user
// sees: six switches and the door cover. Presentation adapters (REST, MQTT,
// Lua) all go through this catalogue so naming and routing stay identical.
package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

const (
	// Domain prefixes unique ids.
	Domain = "petwalk"
	// Brand prefixes display names.
	Brand = "PetWALK"
)

// Kind is the presentation type of an entity.
type Kind string

const (
	KindSwitch Kind = "switch"
	KindCover  Kind = "cover"
)

// Description is a static catalogue entry.
type Description struct {
	Kind Kind
	Name string // friendly suffix, e.g. "Motion IN"
	ID   string // stable id used in topics and unique ids
	Key  string // canonical state key
	Icon string
}

// Switches lists the on/off entities in display order.
var Switches = []Description{
	{Kind: KindSwitch, Name: "Brightness Sensor", ID: "brightness_sensor", Key: "brightnessSensor", Icon: "mdi:brightness-6"},
	{Kind: KindSwitch, Name: "Motion IN", ID: "motion_in", Key: "motion_in", Icon: "mdi:account-arrow-left"},
	{Kind: KindSwitch, Name: "Motion OUT", ID: "motion_out", Key: "motion_out", Icon: "mdi:account-arrow-right"},
	{Kind: KindSwitch, Name: "RFID", ID: "rfid", Key: "rfid", Icon: "mdi:nfc-variant"},
	{Kind: KindSwitch, Name: "Time", ID: "time", Key: "time", Icon: "mdi:clock-time-eight"},
	{Kind: KindSwitch, Name: "System", ID: "system", Key: coordinator.KeySystem, Icon: "mdi:power"},
}

// Door is the single cover entity.
var Door = Description{Kind: KindCover, Name: "Door", ID: "door", Key: coordinator.KeyDoor, Icon: "mdi:door"}

// All returns every entity, switches first.
func All() []Description {
	all := make([]Description, 0, len(Switches)+1)
	all = append(all, Switches...)
	return append(all, Door)
}

// Lookup finds an entity by id or by canonical key.
func Lookup(idOrKey string) (Description, bool) {
	for _, d := range All() {
		if d.ID == idOrKey || d.Key == idOrKey {
			return d, true
		}
	}
	return Description{}, false
}

// DisplayName returns "PetWALK <device> <entity>".
func (d Description) DisplayName(device string) string {
	return fmt.Sprintf("%s %s %s", Brand, device, d.Name)
}

// UniqueID returns "petwalk_<device>_<entity id>".
func (d Description) UniqueID(device string) string {
	return fmt.Sprintf("%s_%s_%s", Domain, device, d.ID)
}

// Commander issues writes. *coordinator.Coordinator implements it.
type Commander interface {
	SetMode(ctx context.Context, key string, value bool) error
	SetState(ctx context.Context, key string, value bool) error
}

// Turn switches the entity on/off, or opens (on) / closes (off) the door.
// The system switch and the door are state writes; every other switch is a mode.
func (d Description) Turn(ctx context.Context, cmd Commander, on bool) error {
	if d.Kind == KindCover || d.Key == coordinator.KeySystem {
		return cmd.SetState(ctx, d.Key, on)
	}
	return cmd.SetMode(ctx, d.Key, on)
}

// IsOn reports switch state: truthiness of the canonical value, false if missing.
func IsOn(s *coordinator.State, key string) bool {
	return s.Flag(key)
}

// DoorClosed interprets the raw door value. Text is closed only when it reads
// "closed" (any case); other present values are closed when truthy; a missing
// door reads as open.
func DoorClosed(s *coordinator.State) bool {
	v, ok := s.Door()
	if !ok {
		return false
	}
	if text, isText := v.AsText(); isText {
		return strings.ToLower(text) == coordinator.DoorClosed
	}
	if v.Kind() == petwalk.KindNull {
		return false
	}
	return v.Truthy()
}

// State strings reported by Snapshot.
const (
	StateOn     = "on"
	StateOff    = "off"
	StateOpen   = coordinator.DoorOpen
	StateClosed = coordinator.DoorClosed
)

// StateOf renders the entity's current state from s.
func (d Description) StateOf(s *coordinator.State) string {
	if d.Kind == KindCover {
		if DoorClosed(s) {
			return StateClosed
		}
		return StateOpen
	}
	if IsOn(s, d.Key) {
		return StateOn
	}
	return StateOff
}

// Snapshot is the presentation view of one entity.
type Snapshot struct {
	ID        string `json:"id"`
	UniqueID  string `json:"unique_id"`
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Key       string `json:"key"`
	Icon      string `json:"icon"`
	State     string `json:"state"`
	Available bool   `json:"available"`
}

// Snapshots renders every entity for device. A nil state renders as
// unavailable with off/open states.
func Snapshots(device string, s *coordinator.State, available bool) []Snapshot {
	all := All()
	out := make([]Snapshot, 0, len(all))
	for _, d := range all {
		out = append(out, Snapshot{
			ID:        d.ID,
			UniqueID:  d.UniqueID(device),
			Name:      d.DisplayName(device),
			Kind:      d.Kind,
			Key:       d.Key,
			Icon:      d.Icon,
			State:     d.StateOf(s),
			Available: available && s != nil,
		})
	}
	return out
}
