// Package coordinator owns the canonical PetWALK state: it polls the appliance
// on a fixed interval, normalizes what it reads, and relays commands back with
// a settle-then-refresh step so the next displayed state is the real one.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultUpdateInterval   = 5 * time.Second
	DefaultRefreshTimeout   = 10 * time.Second
	DefaultSettleDelay      = 500 * time.Millisecond
	DefaultPowerSettleDelay = 1 * time.Second

	// Manufacturer is reported in DeviceInfo.
	Manufacturer = "PetWALK"
)

// Gateway is the appliance API as seen by the coordinator.
// *petwalk.Client implements it.
type Gateway interface {
	GetModes(ctx context.Context) (petwalk.Values, error)
	GetStates(ctx context.Context) (petwalk.Values, error)
	SetModes(ctx context.Context, modes map[string]bool) error
	SetStates(ctx context.Context, states map[string]string) error
}

// Publisher receives coordinator events. *eventbus.Bus implements it.
type Publisher interface {
	Publish(event eventbus.Event)
}

// DeviceInfo identifies the appliance to presentation adapters.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Host         string `json:"host"`
}

// Options configures a Coordinator.
type Options struct {
	UpdateInterval   time.Duration
	RefreshTimeout   time.Duration
	SettleDelay      time.Duration
	PowerSettleDelay time.Duration

	// Limiter throttles writes to the appliance. Nil means unlimited.
	Limiter *rate.Limiter

	// Clock drives settle delays. Nil means wall-clock time.
	Clock Clock

	// Bus receives state and command events. Nil disables publishing.
	Bus Publisher

	// OnPhase, if set, is called on every command phase transition.
	OnPhase func(cmd Command, phase Phase)
}

// Coordinator polls one appliance and serializes its commands.
type Coordinator struct {
	gateway Gateway
	info    DeviceInfo
	bus     Publisher
	limiter *rate.Limiter
	clock   Clock
	onPhase func(Command, Phase)

	updateInterval   time.Duration
	refreshTimeout   time.Duration
	settleDelay      time.Duration
	powerSettleDelay time.Duration

	mu          sync.RWMutex
	state       *State
	lastErr     error
	lastSuccess bool
	lastUpdated time.Time
	seq         uint64 // bumped on every refresh outcome

	trigger chan struct{}
}

// New creates a Coordinator. It does not contact the appliance; call Initialize.
func New(gateway Gateway, name, host string, opts Options) *Coordinator {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.PowerSettleDelay <= 0 {
		opts.PowerSettleDelay = DefaultPowerSettleDelay
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	return &Coordinator{
		gateway: gateway,
		info: DeviceInfo{
			Identifier:   host,
			Name:         name,
			Manufacturer: Manufacturer,
			Host:         host,
		},
		bus:              opts.Bus,
		limiter:          opts.Limiter,
		clock:            opts.Clock,
		onPhase:          opts.OnPhase,
		updateInterval:   opts.UpdateInterval,
		refreshTimeout:   opts.RefreshTimeout,
		settleDelay:      opts.SettleDelay,
		powerSettleDelay: opts.PowerSettleDelay,
		trigger:          make(chan struct{}, 1),
	}
}

// Initialize probes both read endpoints and then performs the first refresh.
// Any failure comes back as *InitError (errors.Is ErrNotReady).
func (c *Coordinator) Initialize(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	if _, err := c.gateway.GetModes(probeCtx); err != nil {
		return &InitError{Err: err}
	}
	states, err := c.gateway.GetStates(probeCtx)
	if err != nil {
		return &InitError{Err: err}
	}
	log.Debug().Interface("states", states).Msg("Initial states from API")

	if err := c.Refresh(ctx); err != nil {
		return &InitError{Err: err}
	}

	log.Info().
		Str("device", c.info.Name).
		Str("host", c.info.Host).
		Msg("Coordinator initialized")
	return nil
}

// Run refreshes on every tick and on every Trigger until ctx is cancelled.
// Refresh failures are logged and the loop keeps going.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().Dur("update_interval", c.updateInterval).Msg("Coordinator started")

	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Coordinator stopping")
			return nil

		case <-c.trigger:
			_ = c.Refresh(ctx)

		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Trigger asks the Run loop for an extra refresh without waiting for it.
// Multiple triggers before the loop wakes collapse into one.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// RequestRefresh performs an out-of-schedule refresh and waits for it.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	return c.Refresh(ctx)
}

type readResult struct {
	modes  petwalk.Values
	states petwalk.Values
	err    error
}

// Refresh reads modes and states, normalizes them and swaps the canonical state.
// On any failure the previous state is kept and *UpdateFailedError is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- readResult{err: fmt.Errorf("gateway panic: %v", r)}
			}
		}()
		done <- c.read(ctx)
	}()

	var res readResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		return c.fail(res.err)
	}

	c.mu.RLock()
	var prevPetStatus map[string]any
	if c.state != nil {
		prevPetStatus = c.state.PetStatus
	}
	c.mu.RUnlock()

	next := Normalize(res.modes, res.states, prevPetStatus)

	c.mu.Lock()
	c.state = next
	c.lastErr = nil
	c.lastSuccess = true
	c.lastUpdated = c.clock.Now()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	log.Debug().Interface("states", res.states).Msg("States received from API")

	c.publish(eventbus.EventTypeStateUpdated, map[string]interface{}{
		"state": next.Clone(),
		"seq":   seq,
	})
	return nil
}

func (c *Coordinator) read(ctx context.Context) readResult {
	modes, err := c.gateway.GetModes(ctx)
	if err != nil {
		return readResult{err: err}
	}
	states, err := c.gateway.GetStates(ctx)
	if err != nil {
		return readResult{err: err}
	}
	return readResult{modes: modes, states: states}
}

func (c *Coordinator) fail(err error) error {
	uf := &UpdateFailedError{Err: err}

	c.mu.Lock()
	c.lastErr = uf
	c.lastSuccess = false
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	log.Error().Err(err).Str("device", c.info.Name).Msg("Error communicating with API")

	c.publish(eventbus.EventTypeRefreshFailed, map[string]interface{}{
		"error": uf,
		"seq":   seq,
	})
	return uf
}

// RefreshSeq returns the sequence number of a state_updated or
// refresh_failed event. Numbers grow with every refresh outcome, so a
// consumer on a multi-worker bus can tell a late event from a current one.
func RefreshSeq(e eventbus.Event) (uint64, bool) {
	seq, ok := e.Data["seq"].(uint64)
	return seq, ok
}

// Latest drops refresh events older than the newest one seen.
// The zero value is ready to use; callers serialize access.
type Latest struct {
	seq uint64
}

// Accept reports whether e is newer than every event accepted so far.
// Events without a sequence number are always accepted.
func (l *Latest) Accept(e eventbus.Event) bool {
	seq, ok := RefreshSeq(e)
	if !ok {
		return true
	}
	if seq <= l.seq {
		return false
	}
	l.seq = seq
	return true
}

func (c *Coordinator) publish(eventType eventbus.EventType, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}

// State returns a copy of the canonical state, or nil before the first
// successful refresh.
func (c *Coordinator) State() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// DeviceInfo returns the appliance identity.
func (c *Coordinator) DeviceInfo() DeviceInfo {
	return c.info
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastError returns the most recent update failure, or nil after a success.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdated returns when the canonical state was last replaced.
func (c *Coordinator) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}
