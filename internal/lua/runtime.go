package lua

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// StateHook is the global function called after every successful refresh.
const StateHook = "on_state"

// LuaWork represents work to be executed on the Lua VM
// All Lua execution MUST go through this to ensure thread safety
type LuaWork func(ctx context.Context)

// Subscriber is the part of the event bus the runtime listens on.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler)
}

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L      *lua.LState
	device modules.Device
	name   string

	// Work queue for thread-safe Lua execution
	workQueue chan LuaWork

	// Shutdown signaling - closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once

	// hookCtx is the context handed to on_state invocations queued from bus events.
	hookCtx context.Context
	hookMu  sync.RWMutex

	// latest is only touched on the Lua worker.
	latest coordinator.Latest
}

// NewRuntime creates a new Lua runtime bound to one device.
func NewRuntime(device modules.Device, name string) *Runtime {
	r := &Runtime{
		L:         lua.NewState(),
		device:    device,
		name:      name,
		workQueue: make(chan LuaWork, 100),
		closing:   make(chan struct{}),
		hookCtx:   context.Background(),
	}

	r.registerModules()

	return r
}

// Close signals the runtime to stop accepting new work and closes the Lua state.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	// workQueue is left open to avoid send-on-closed-channel panics.
	r.L.Close()
}

// Do queues work to be executed on the Lua VM (thread-safe, non-blocking)
// Returns false if the runtime is closing, queue is full, or context is cancelled.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSyncWithResult queues work, waits for space, and waits for the result.
func (r *Runtime) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrappedWork := LuaWork(func(c context.Context) {
		done <- work(c)
	})

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrappedWork:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (r *Runtime) registerModules() {
	r.L.PreloadModule("log", modules.NewLogModule(r.name).Loader)
	r.L.PreloadModule("petwalk", modules.NewPetwalkModule(r.device, r.name).Loader)
}

// EnableStore makes the "store" module available to scripts.
// Must be called before LoadScript.
func (r *Runtime) EnableStore(store modules.KVStore) {
	r.L.PreloadModule("store", modules.NewStoreModule(store).Loader)
}

// Run starts the Lua worker goroutine - this is the ONLY goroutine that touches Lua.
// Exits when context is cancelled or runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	r.hookMu.Lock()
	r.hookCtx = ctx
	r.hookMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	// Modules read the context back through L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript loads and executes a Lua script (must be called before Run)
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Bool("on_state", r.hasHook()).Msg("Lua script loaded successfully")
	return nil
}

func (r *Runtime) hasHook() bool {
	_, ok := r.L.GetGlobal(StateHook).(*lua.LFunction)
	return ok
}

// Attach queues the on_state hook for every refreshed state.
// A state that reaches the worker after a newer one is skipped.
func (r *Runtime) Attach(bus Subscriber) {
	bus.Subscribe(eventbus.EventTypeStateUpdated, func(e eventbus.Event) {
		s, _ := e.Data["state"].(*coordinator.State)
		if s == nil {
			return
		}
		r.hookMu.RLock()
		ctx := r.hookCtx
		r.hookMu.RUnlock()
		r.Do(ctx, func(context.Context) {
			if !r.latest.Accept(e) {
				return
			}
			r.CallStateHook(s)
		})
	})
}

// CallStateHook calls on_state(state) if the script defines it.
// MUST run on the Lua worker.
func (r *Runtime) CallStateHook(s *coordinator.State) {
	fn, ok := r.L.GetGlobal(StateHook).(*lua.LFunction)
	if !ok {
		return
	}
	err := r.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, modules.StateToLua(r.L, s))
	if err != nil {
		log.Error().Err(err).Msg("Lua on_state hook failed")
	}
}
