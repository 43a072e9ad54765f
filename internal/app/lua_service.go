package app

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/config"
	luart "github.com/dokzlo13/petwalkd/internal/lua"
	"github.com/dokzlo13/petwalkd/internal/lua/modules"
)

// LuaService wraps the Lua runtime and provides thread-safe execution.
// It is disabled when the configured script does not exist.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
}

// NewLuaService creates a new LuaService. Returns nil when no script is present.
func NewLuaService(cfg *config.Config, device modules.Device, store modules.KVStore) (*LuaService, error) {
	if _, err := os.Stat(cfg.Script); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("path", cfg.Script).Msg("No Lua script found, automation disabled")
			return nil, nil
		}
		return nil, err
	}

	runtime := luart.NewRuntime(device, cfg.Device.GetName())
	runtime.EnableStore(store)

	return &LuaService{
		cfg:     cfg,
		Runtime: runtime,
	}, nil
}

// LoadScript loads and executes the Lua script.
// Must be called before Start().
func (s *LuaService) LoadScript() error {
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Attach queues the state hook on every refresh. Must run before the first refresh.
func (s *LuaService) Attach(bus luart.Subscriber) {
	s.Runtime.Attach(bus)
}

// Start begins the Lua worker goroutine.
func (s *LuaService) Start(ctx context.Context) {
	// The ONLY goroutine that touches Lua
	go s.Runtime.Run(ctx)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
