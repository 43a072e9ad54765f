package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

func TestNew_DoesNotPopulateState(t *testing.T) {
	g := newFakeGateway(petwalk.Values{"rfid": petwalk.Bool(true)}, petwalk.Values{})
	c, _, _ := newTestCoordinator(g, Options{})

	assert.Nil(t, c.State())
	assert.False(t, c.LastUpdateSuccess())
	assert.Equal(t, 0, g.reads)
}

func TestInitialize_PopulatesCanonicalState(t *testing.T) {
	g := newFakeGateway(
		petwalk.Values{"rfid": petwalk.Bool(true)},
		petwalk.Values{"door": petwalk.Text("closed"), "system": petwalk.Text("on")},
	)
	c, _, bus := newTestCoordinator(g, Options{})

	require.NoError(t, c.Initialize(context.Background()))

	st := c.State()
	require.NotNil(t, st)
	assert.Equal(t, petwalk.Bool(true), st.API["rfid"])
	assert.Equal(t, petwalk.Text("closed"), st.API["door"])
	assert.Equal(t, petwalk.Bool(true), st.API["system"])
	assert.NotNil(t, st.PetStatus)
	assert.Empty(t, st.PetStatus)
	assert.True(t, c.LastUpdateSuccess())
	assert.Equal(t, []eventbus.EventType{eventbus.EventTypeStateUpdated}, bus.Types())
}

func TestInitialize_ProbeFailureIsInitError(t *testing.T) {
	g := newFakeGateway(nil, nil)
	g.statesErr = petwalk.ErrRequestFailed
	c, _, _ := newTestCoordinator(g, Options{})

	err := c.Initialize(context.Background())
	require.Error(t, err)

	var initErr *InitError
	assert.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, petwalk.ErrRequestFailed)
	assert.False(t, IsUpdateFailed(err), "probe failure must not be an update failure")
	assert.Nil(t, c.State())
}

func TestRefresh_Idempotent(t *testing.T) {
	g := newFakeGateway(
		petwalk.Values{"rfid": petwalk.Bool(true), "time": petwalk.Bool(false)},
		petwalk.Values{"door": petwalk.Text("open"), "system": petwalk.Int(1)},
	)
	c, _, _ := newTestCoordinator(g, Options{})
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	first := c.State()
	require.NoError(t, c.Refresh(ctx))
	second := c.State()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second refresh changed state (-first +second):\n%s", diff)
	}
}

func TestRefresh_FailureKeepsPreviousState(t *testing.T) {
	g := newFakeGateway(
		petwalk.Values{"rfid": petwalk.Bool(true)},
		petwalk.Values{"door": petwalk.Text("closed"), "system": petwalk.Text("on")},
	)
	c, _, bus := newTestCoordinator(g, Options{})
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	before := c.State()

	// Modes succeed with new data, states fail: nothing may leak through.
	g.set(func(g *fakeGateway) {
		g.modes = petwalk.Values{"rfid": petwalk.Bool(false)}
		g.statesErr = errors.New("connection reset by peer")
	})

	err := c.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, IsUpdateFailed(err))
	assert.Contains(t, err.Error(), "connection reset by peer")

	if diff := cmp.Diff(before, c.State()); diff != "" {
		t.Errorf("failed refresh changed state (-before +after):\n%s", diff)
	}
	assert.False(t, c.LastUpdateSuccess())
	assert.Equal(t, err, c.LastError())
	assert.Equal(t, eventbus.EventTypeRefreshFailed, bus.Types()[len(bus.Types())-1])

	// Recovery clears the error.
	g.set(func(g *fakeGateway) { g.statesErr = nil })
	require.NoError(t, c.Refresh(ctx))
	assert.True(t, c.LastUpdateSuccess())
	assert.NoError(t, c.LastError())
	assert.False(t, c.State().Flag("rfid"))
}

func TestRefresh_TimeoutIsUpdateFailure(t *testing.T) {
	g := newFakeGateway(petwalk.Values{}, petwalk.Values{})
	g.blockReads = true
	c, _, _ := newTestCoordinator(g, Options{RefreshTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsUpdateFailed(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, c.State())
}

func TestRefresh_PetStatusSurvivesRefreshes(t *testing.T) {
	g := newFakeGateway(petwalk.Values{}, petwalk.Values{"door": petwalk.Text("open")})
	c, _, _ := newTestCoordinator(g, Options{})
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	c.mu.Lock()
	c.state.PetStatus["felix"] = "outside"
	c.mu.Unlock()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Refresh(ctx))
	}
	assert.Equal(t, map[string]any{"felix": "outside"}, c.State().PetStatus)
}

func TestRefresh_ModeKeysFullyReplaced(t *testing.T) {
	g := newFakeGateway(
		petwalk.Values{"rfid": petwalk.Bool(true), "time": petwalk.Bool(true)},
		petwalk.Values{},
	)
	c, _, _ := newTestCoordinator(g, Options{})
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	g.set(func(g *fakeGateway) { g.modes = petwalk.Values{"rfid": petwalk.Bool(true)} })
	require.NoError(t, c.Refresh(ctx))

	_, ok := c.State().Value("time")
	assert.False(t, ok, "keys missing from the latest read must not linger")
}

func TestState_ReturnsCopy(t *testing.T) {
	g := newFakeGateway(petwalk.Values{"rfid": petwalk.Bool(true)}, petwalk.Values{})
	c, _, _ := newTestCoordinator(g, Options{})
	require.NoError(t, c.Refresh(context.Background()))

	st := c.State()
	st.API["rfid"] = petwalk.Bool(false)
	assert.True(t, c.State().Flag("rfid"))
}

func TestDeviceInfo(t *testing.T) {
	c, _, _ := newTestCoordinator(newFakeGateway(nil, nil), Options{})
	assert.Equal(t, DeviceInfo{
		Identifier:   "192.0.2.10",
		Name:         "Kitchen",
		Manufacturer: "PetWALK",
		Host:         "192.0.2.10",
	}, c.DeviceInfo())
}

func TestRun_RefreshesOnTriggerAndSurvivesErrors(t *testing.T) {
	g := newFakeGateway(petwalk.Values{}, petwalk.Values{})
	g.modesErr = errors.New("no route to host")
	c, _, _ := newTestCoordinator(g, Options{UpdateInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Trigger()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.reads >= 1
	}, 2*time.Second, 5*time.Millisecond)

	g.set(func(g *fakeGateway) { g.modesErr = nil })
	c.Trigger()
	require.Eventually(t, c.LastUpdateSuccess, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_Ticks(t *testing.T) {
	g := newFakeGateway(petwalk.Values{}, petwalk.Values{})
	c, _, _ := newTestCoordinator(g, Options{UpdateInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.reads >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRefresh_EventsCarryIncreasingSeq(t *testing.T) {
	g := newFakeGateway(petwalk.Values{"rfid": petwalk.Bool(true)}, petwalk.Values{})
	c, _, bus := newTestCoordinator(g, Options{})
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	g.set(func(g *fakeGateway) { g.modesErr = errors.New("boom") })
	require.Error(t, c.Refresh(ctx))
	g.set(func(g *fakeGateway) { g.modesErr = nil })
	require.NoError(t, c.Refresh(ctx))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	var seqs []uint64
	for _, e := range bus.events {
		seq, ok := RefreshSeq(e)
		require.True(t, ok, e.Type)
		seqs = append(seqs, seq)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestLatest_DropsOvertakenEvents(t *testing.T) {
	ev := func(seq uint64) eventbus.Event {
		return eventbus.Event{Type: eventbus.EventTypeStateUpdated, Data: map[string]interface{}{"seq": seq}}
	}

	var l Latest
	assert.True(t, l.Accept(ev(2)))
	assert.False(t, l.Accept(ev(1)), "older event after newer")
	assert.False(t, l.Accept(ev(2)), "duplicate")
	assert.True(t, l.Accept(ev(3)))
	assert.True(t, l.Accept(eventbus.Event{Type: eventbus.EventTypeStateUpdated}), "no seq")
}
