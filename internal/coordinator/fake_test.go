package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

// fakeGateway is an in-memory appliance.
type fakeGateway struct {
	mu sync.Mutex

	modes  petwalk.Values
	states petwalk.Values

	modesErr     error
	statesErr    error
	setModesErr  error
	setStatesErr error

	// blockReads makes reads wait for ctx cancellation.
	blockReads bool

	// applyWrites makes writes visible to later reads.
	applyWrites bool

	modeWrites  []map[string]bool
	stateWrites []map[string]string
	reads       int
}

func newFakeGateway(modes, states petwalk.Values) *fakeGateway {
	return &fakeGateway{modes: modes, states: states}
}

func (g *fakeGateway) GetModes(ctx context.Context) (petwalk.Values, error) {
	g.mu.Lock()
	block := g.blockReads
	g.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.modesErr != nil {
		return nil, g.modesErr
	}
	return g.modes.Clone(), nil
}

func (g *fakeGateway) GetStates(ctx context.Context) (petwalk.Values, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statesErr != nil {
		return nil, g.statesErr
	}
	return g.states.Clone(), nil
}

func (g *fakeGateway) SetModes(ctx context.Context, modes map[string]bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modeWrites = append(g.modeWrites, modes)
	if g.setModesErr != nil {
		return g.setModesErr
	}
	if g.applyWrites {
		for k, v := range modes {
			g.modes[k] = petwalk.Bool(v)
		}
	}
	return nil
}

func (g *fakeGateway) SetStates(ctx context.Context, states map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateWrites = append(g.stateWrites, states)
	if g.setStatesErr != nil {
		return g.setStatesErr
	}
	if g.applyWrites {
		for k, v := range states {
			g.states[k] = petwalk.Text(v)
		}
	}
	return nil
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) totalWrites() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.modeWrites) + len(g.stateWrites)
}

// fakeClock fires every After immediately and remembers the requested delays.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Types() []eventbus.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]eventbus.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestCoordinator(g Gateway, opts Options) (*Coordinator, *fakeClock, *recordingBus) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	bus := &recordingBus{}
	if opts.Clock == nil {
		opts.Clock = clock
	}
	if opts.Bus == nil {
		opts.Bus = bus
	}
	return New(g, "Kitchen", "192.0.2.10", opts), clock, bus
}
