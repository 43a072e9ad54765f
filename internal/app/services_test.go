package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/petwalkd/internal/config"
)

func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(`
device:
  host: 192.168.1.50
  name: Kitchen
database:
  path: ` + filepath.Join(dir, "petwalkd.sqlite") + `
script: ` + filepath.Join(dir, script) + `
`))
	require.NoError(t, err)
	return cfg
}

func TestNewServices_WithoutScript(t *testing.T) {
	s, err := NewServices(testConfig(t, "missing.lua"))
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Lua)
	assert.Nil(t, s.MQTT)
	assert.Nil(t, s.History)
	assert.NotNil(t, s.Device.Coordinator)
	assert.Nil(t, s.Device.Coordinator.State(), "no refresh before Start")
	assert.Equal(t, "192.168.1.50:8080", s.Device.Client.Address())
}

func TestNewServices_WithScript(t *testing.T) {
	cfg := testConfig(t, "main.lua")
	require.NoError(t, os.WriteFile(cfg.Script, []byte(`
		local store = require("store")
		store.set("loaded", true)
		function on_state(s) end
	`), 0o600))

	s, err := NewServices(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Lua)
	require.NoError(t, s.Lua.LoadScript())

	v, err := s.Maintenance.Store.Get("loaded")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestMaintenance_Cleanup(t *testing.T) {
	s, err := NewServices(testConfig(t, "missing.lua"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Maintenance.Store.Set("keep", 1, 0))
	require.NoError(t, s.Maintenance.Store.Set("gone", 1, time.Nanosecond))

	s.Maintenance.cleanup()

	keys, err := s.Maintenance.Store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, keys)
}
