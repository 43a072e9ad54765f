package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/eventbus"
)

// CommandKind distinguishes the two write endpoints.
type CommandKind string

const (
	CommandMode  CommandKind = "mode"
	CommandState CommandKind = "state"
)

// Command is one user request travelling through the dispatcher.
type Command struct {
	ID     string
	Kind   CommandKind
	Key    string
	Value  bool
	Wire   string // state commands only: "open"/"closed"/"on"/"off"
	Settle time.Duration
	Source string // adapter that issued the command, see WithSource
}

type sourceKey struct{}

// WithSource tags commands issued with ctx as coming from source ("api", "mqtt", "lua").
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// Phase is the dispatcher's position in the write/settle/refresh cycle.
type Phase int

const (
	PhaseWriteIssued Phase = iota
	PhaseSettling
	PhaseRefreshRequested
	PhaseDone
	PhaseFailed
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseWriteIssued:
		return "write_issued"
	case PhaseSettling:
		return "settling"
	case PhaseRefreshRequested:
		return "refresh_requested"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// nextPhase returns the phase that follows a successful step in p.
func nextPhase(p Phase) Phase {
	switch p {
	case PhaseWriteIssued:
		return PhaseSettling
	case PhaseSettling:
		return PhaseRefreshRequested
	case PhaseRefreshRequested:
		return PhaseDone
	default:
		return p
	}
}

// Clock abstracts the passage of time for settle delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

// SetMode writes a single feature flag, waits for the appliance to apply it
// and refreshes.
func (c *Coordinator) SetMode(ctx context.Context, key string, value bool) error {
	return c.dispatch(ctx, Command{
		ID:     uuid.NewString(),
		Kind:   CommandMode,
		Key:    key,
		Value:  value,
		Settle: c.settleDelay,
		Source: sourceFrom(ctx),
	})
}

// SetState changes the door position or the system power.
// Unknown keys are logged and ignored; they never reach the appliance.
func (c *Coordinator) SetState(ctx context.Context, key string, value bool) error {
	cmd := Command{
		ID:     uuid.NewString(),
		Kind:   CommandState,
		Key:    key,
		Value:  value,
		Source: sourceFrom(ctx),
	}

	switch key {
	case KeyDoor:
		cmd.Wire = DoorClosed
		if value {
			cmd.Wire = DoorOpen
		}
		cmd.Settle = c.settleDelay
	case KeySystem:
		cmd.Wire = "off"
		if value {
			cmd.Wire = "on"
		}
		// Power transitions take longer to show up on the read side.
		cmd.Settle = c.powerSettleDelay
	default:
		log.Warn().Str("key", key).Msg("Unknown state key")
		return nil
	}

	return c.dispatch(ctx, cmd)
}

// dispatch walks the command through write -> settle -> refresh.
func (c *Coordinator) dispatch(ctx context.Context, cmd Command) error {
	log.Debug().
		Str("command_id", cmd.ID).
		Str("kind", string(cmd.Kind)).
		Str("key", cmd.Key).
		Bool("value", cmd.Value).
		Str("wire", cmd.Wire).
		Str("source", cmd.Source).
		Msg("Sending command")

	phase := PhaseWriteIssued
	for {
		c.enter(cmd, phase)

		var err error
		switch phase {
		case PhaseWriteIssued:
			err = c.write(ctx, cmd)
		case PhaseSettling:
			err = c.settle(ctx, cmd.Settle)
		case PhaseRefreshRequested:
			err = c.RequestRefresh(ctx)
		case PhaseDone:
			c.publish(eventbus.EventTypeCommandCompleted, commandData(cmd))
			return nil
		}

		if err != nil {
			c.enter(cmd, PhaseFailed)
			log.Error().
				Err(err).
				Str("command_id", cmd.ID).
				Str("key", cmd.Key).
				Str("phase", phase.String()).
				Msg("Command failed")

			data := commandData(cmd)
			data["phase"] = phase.String()
			data["error"] = err
			c.publish(eventbus.EventTypeCommandFailed, data)
			return err
		}

		phase = nextPhase(phase)
	}
}

func (c *Coordinator) enter(cmd Command, phase Phase) {
	if c.onPhase != nil {
		c.onPhase(cmd, phase)
	}
}

func (c *Coordinator) write(ctx context.Context, cmd Command) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if cmd.Kind == CommandMode {
		return c.gateway.SetModes(ctx, map[string]bool{cmd.Key: cmd.Value})
	}
	return c.gateway.SetStates(ctx, map[string]string{cmd.Key: cmd.Wire})
}

func (c *Coordinator) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func commandData(cmd Command) map[string]interface{} {
	return map[string]interface{}{
		"command_id": cmd.ID,
		"kind":       string(cmd.Kind),
		"key":        cmd.Key,
		"value":      cmd.Value,
		"wire":       cmd.Wire,
		"source":     cmd.Source,
	}
}
