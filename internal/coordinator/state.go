package coordinator

import (
	"strings"

	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

// Well-known keys in the canonical API namespace.
const (
	KeyDoor   = "door"
	KeySystem = "system"
)

// Door tokens as reported and accepted by the appliance.
const (
	DoorOpen   = "open"
	DoorClosed = "closed"
)

// State is the canonical, normalized snapshot of the appliance.
// A *State handed out by the Coordinator is a private copy.
type State struct {
	// API is the flat merge of modes and states.
	// "system" is always a Bool; "door" is whatever the appliance sent.
	API map[string]petwalk.Value `json:"api_data"`

	// PetStatus is reserved for per-animal data. Created empty once and
	// carried forward across refreshes.
	PetStatus map[string]any `json:"pet_status"`
}

// Value returns the canonical value for key.
func (s *State) Value(key string) (petwalk.Value, bool) {
	if s == nil {
		return petwalk.Value{}, false
	}
	v, ok := s.API[key]
	return v, ok
}

// Flag returns the truthiness of key; missing keys are false.
func (s *State) Flag(key string) bool {
	v, ok := s.Value(key)
	return ok && v.Truthy()
}

// System returns the normalized power state.
func (s *State) System() bool {
	return s.Flag(KeySystem)
}

// Door returns the raw door value.
func (s *State) Door() (petwalk.Value, bool) {
	return s.Value(KeyDoor)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		API:       make(map[string]petwalk.Value, len(s.API)),
		PetStatus: make(map[string]any, len(s.PetStatus)),
	}
	for k, v := range s.API {
		out.API[k] = v
	}
	for k, v := range s.PetStatus {
		out.PetStatus[k] = v
	}
	return out
}

// Normalize builds the canonical state from one modes read and one states read.
// prevPetStatus is the namespace from the previous state (nil if none).
// It has no side effects and never fails.
func Normalize(modes, states petwalk.Values, prevPetStatus map[string]any) *State {
	api := make(map[string]petwalk.Value, len(modes)+len(states))
	for k, v := range modes {
		api[k] = v
	}
	for k, v := range states {
		if k == KeySystem {
			v = petwalk.Bool(NormalizeSystem(v))
		}
		api[k] = v
	}

	petStatus := make(map[string]any, len(prevPetStatus))
	for k, v := range prevPetStatus {
		petStatus[k] = v
	}

	return &State{
		API:       api,
		PetStatus: petStatus,
	}
}

// NormalizeSystem coerces any wire representation of the power state to a bool.
// Text is true for "on", "true" or "1" (case-insensitive); Int is true when
// nonzero; Bool passes through; everything else is false.
func NormalizeSystem(v petwalk.Value) bool {
	switch v.Kind() {
	case petwalk.KindBool:
		b, _ := v.AsBool()
		return b
	case petwalk.KindInt:
		i, _ := v.AsInt()
		return i != 0
	case petwalk.KindText:
		s, _ := v.AsText()
		switch strings.ToLower(s) {
		case "on", "true", "1":
			return true
		}
		return false
	default:
		return false
	}
}
