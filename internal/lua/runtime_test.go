package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

type call struct {
	method string
	key    string
	value  bool
}

type fakeDevice struct {
	mu        sync.Mutex
	state     *coordinator.State
	err       error
	calls     []call
	refreshes int
	notify    chan call
}

func (f *fakeDevice) State() *coordinator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeDevice) LastUpdateSuccess() bool { return f.State() != nil }

func (f *fakeDevice) RequestRefresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.err
}

func (f *fakeDevice) record(c call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	err := f.err
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- c
	}
	return err
}

func (f *fakeDevice) SetMode(_ context.Context, key string, value bool) error {
	return f.record(call{"mode", key, value})
}

func (f *fakeDevice) SetState(_ context.Context, key string, value bool) error {
	return f.record(call{"state", key, value})
}

func openDoorState() *coordinator.State {
	return &coordinator.State{
		API: map[string]petwalk.Value{
			"door":   petwalk.Text("open"),
			"system": petwalk.Bool(true),
			"rfid":   petwalk.Bool(false),
		},
		PetStatus: map[string]any{},
	}
}

func TestPetwalkModule_StateBeforeRefresh(t *testing.T) {
	r := NewRuntime(&fakeDevice{}, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`
		local petwalk = require("petwalk")
		result = petwalk.state() == nil and not petwalk.available()
	`))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("result"))
}

func TestPetwalkModule_ReadsState(t *testing.T) {
	r := NewRuntime(&fakeDevice{state: openDoorState()}, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`
		local petwalk = require("petwalk")
		local s = petwalk.state()
		door = s.door
		system = s.system
		rfid_on = petwalk.is_on("rfid")
		closed = petwalk.door_closed()
		name = petwalk.name
		has_pet_status = type(s.pet_status) == "table"
	`))
	assert.Equal(t, lua.LString("open"), r.L.GetGlobal("door"))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("system"))
	assert.Equal(t, lua.LFalse, r.L.GetGlobal("rfid_on"))
	assert.Equal(t, lua.LFalse, r.L.GetGlobal("closed"))
	assert.Equal(t, lua.LString("Kitchen"), r.L.GetGlobal("name"))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("has_pet_status"))
}

func TestPetwalkModule_Commands(t *testing.T) {
	dev := &fakeDevice{state: openDoorState()}
	r := NewRuntime(dev, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`
		local petwalk = require("petwalk")
		a = petwalk.set_mode("rfid", true)
		b = petwalk.set_state("door", false)
		c = petwalk.refresh()
	`))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("a"))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("b"))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("c"))
	assert.Equal(t, []call{{"mode", "rfid", true}, {"state", "door", false}}, dev.calls)
	assert.Equal(t, 1, dev.refreshes)
}

func TestPetwalkModule_CommandError(t *testing.T) {
	dev := &fakeDevice{err: errors.New("boom")}
	r := NewRuntime(dev, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`
		local petwalk = require("petwalk")
		ok, err = petwalk.set_state("system", false)
	`))
	assert.Equal(t, lua.LNil, r.L.GetGlobal("ok"))
	assert.Equal(t, lua.LString("boom"), r.L.GetGlobal("err"))
}

func TestCallStateHook(t *testing.T) {
	dev := &fakeDevice{state: openDoorState()}
	r := NewRuntime(dev, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`
		local petwalk = require("petwalk")
		function on_state(s)
			if s.door == "open" then
				petwalk.set_state("door", false)
			end
		end
	`))
	require.True(t, r.hasHook())

	r.CallStateHook(openDoorState())
	assert.Equal(t, []call{{"state", "door", false}}, dev.calls)
}

func TestCallStateHook_ErrorIsContained(t *testing.T) {
	r := NewRuntime(&fakeDevice{}, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`function on_state(s) error("nope") end`))
	assert.NotPanics(t, func() { r.CallStateHook(openDoorState()) })
}

type syncBus struct {
	handlers map[eventbus.EventType][]eventbus.Handler
}

func (b *syncBus) Subscribe(t eventbus.EventType, h eventbus.Handler) {
	if b.handlers == nil {
		b.handlers = map[eventbus.EventType][]eventbus.Handler{}
	}
	b.handlers[t] = append(b.handlers[t], h)
}

func (b *syncBus) Publish(e eventbus.Event) {
	for _, h := range b.handlers[e.Type] {
		h(e)
	}
}

func TestAttach_RunsHookOnWorker(t *testing.T) {
	dev := &fakeDevice{state: openDoorState(), notify: make(chan call, 1)}
	r := NewRuntime(dev, "Kitchen")
	defer r.Close()

	script := filepath.Join(t.TempDir(), "main.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
		local petwalk = require("petwalk")
		local log = require("log")
		function on_state(s)
			log.info("state", { door = s.door })
			if not s.rfid then
				petwalk.set_mode("rfid", true)
			end
		end
	`), 0o600))
	require.NoError(t, r.LoadScript(script))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	bus := &syncBus{}
	r.Attach(bus)
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStateUpdated, Data: map[string]interface{}{"state": openDoorState()}})

	select {
	case c := <-dev.notify:
		assert.Equal(t, call{"mode", "rfid", true}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("on_state hook did not run")
	}

	// Wait for the hook to return before the deferred Close.
	require.NoError(t, r.DoSyncWithResult(ctx, func(context.Context) error { return nil }))
}

func TestLoadScript_Error(t *testing.T) {
	r := NewRuntime(&fakeDevice{}, "Kitchen")
	defer r.Close()

	err := r.LoadScript(filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}

func TestDoSyncWithResult(t *testing.T) {
	r := NewRuntime(&fakeDevice{}, "Kitchen")
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	boom := errors.New("boom")
	err := r.DoSyncWithResult(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

type memStore struct {
	values map[string]any
}

func (m *memStore) Set(key string, value any, _ time.Duration) error {
	if key == "" {
		return errors.New("empty key")
	}
	m.values[key] = value
	return nil
}

func (m *memStore) Get(key string) (any, error) { return m.values[key], nil }

func (m *memStore) Delete(key string) (bool, error) {
	_, ok := m.values[key]
	delete(m.values, key)
	return ok, nil
}

func (m *memStore) Keys() ([]string, error) {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestStoreModule(t *testing.T) {
	store := &memStore{values: map[string]any{}}
	r := NewRuntime(&fakeDevice{}, "Kitchen")
	defer r.Close()
	r.EnableStore(store)

	require.NoError(t, r.L.DoString(`
		local store = require("store")
		ok = store.set("closed_at", 1700000000)
		store.set("cfg", { hour = 21 })
		missing = store.get("nope")
		cfg_hour = store.get("cfg").hour
		n = #store.keys()
		removed = store.delete("closed_at")
		bad, err = store.set("", 1)
	`))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("ok"))
	assert.Equal(t, lua.LNil, r.L.GetGlobal("missing"))
	assert.Equal(t, lua.LNumber(21), r.L.GetGlobal("cfg_hour"))
	assert.Equal(t, lua.LNumber(2), r.L.GetGlobal("n"))
	assert.Equal(t, lua.LTrue, r.L.GetGlobal("removed"))
	assert.Equal(t, lua.LNil, r.L.GetGlobal("bad"))
	assert.Equal(t, lua.LString("empty key"), r.L.GetGlobal("err"))
	assert.Equal(t, map[string]any{"cfg": map[string]interface{}{"hour": float64(21)}}, store.values)
}

func TestAttach_SkipsOvertakenState(t *testing.T) {
	dev := &fakeDevice{state: openDoorState()}
	r := NewRuntime(dev, "Kitchen")
	defer r.Close()

	require.NoError(t, r.L.DoString(`
		seen = {}
		function on_state(s)
			table.insert(seen, s.door)
		end
	`))

	bus := &syncBus{}
	r.Attach(bus)

	closed := openDoorState()
	closed.API["door"] = petwalk.Text("closed")

	// Queued before the worker starts, newest first.
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStateUpdated, Data: map[string]interface{}{"state": closed, "seq": uint64(2)}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStateUpdated, Data: map[string]interface{}{"state": openDoorState(), "seq": uint64(1)}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	var seen []lua.LValue
	require.NoError(t, r.DoSyncWithResult(ctx, func(context.Context) error {
		tbl := r.L.GetGlobal("seen").(*lua.LTable)
		tbl.ForEach(func(_, v lua.LValue) { seen = append(seen, v) })
		return nil
	}))
	assert.Equal(t, []lua.LValue{lua.LString("closed")}, seen)
}
