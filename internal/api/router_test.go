package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
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
	available bool
	lastErr   error
	cmdErr    error
	refreshed int
	calls     []call
}

func (f *fakeDevice) State() *coordinator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeDevice) DeviceInfo() coordinator.DeviceInfo {
	return coordinator.DeviceInfo{Identifier: "192.0.2.10", Name: "Kitchen", Manufacturer: coordinator.Manufacturer, Host: "192.0.2.10"}
}

func (f *fakeDevice) LastUpdateSuccess() bool { return f.available }
func (f *fakeDevice) LastError() error        { return f.lastErr }
func (f *fakeDevice) LastUpdated() time.Time  { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func (f *fakeDevice) RequestRefresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	return f.cmdErr
}

func (f *fakeDevice) record(method, key string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, key: key, value: value})
	if f.cmdErr != nil {
		return f.cmdErr
	}
	if f.state != nil {
		if method == "state" && key == "door" {
			f.state.API["door"] = petwalk.Text(map[bool]string{true: "open", false: "closed"}[value])
		} else {
			f.state.API[key] = petwalk.Bool(value)
		}
	}
	return nil
}

func (f *fakeDevice) SetMode(_ context.Context, key string, value bool) error {
	return f.record("mode", key, value)
}

func (f *fakeDevice) SetState(_ context.Context, key string, value bool) error {
	return f.record("state", key, value)
}

func readyDevice() *fakeDevice {
	return &fakeDevice{
		available: true,
		state: &coordinator.State{
			API: map[string]petwalk.Value{
				"door":   petwalk.Text("closed"),
				"system": petwalk.Bool(true),
				"rfid":   petwalk.Bool(false),
			},
			PetStatus: map[string]any{},
		},
	}
}

func do(t *testing.T, r *Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	dev := readyDevice()
	w := do(t, NewRouter(dev, nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	dev.available = false
	dev.lastErr = errors.New("error communicating with API: boom")
	w = do(t, NewRouter(dev, nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.LastError, "boom")
}

func TestState(t *testing.T) {
	w := do(t, NewRouter(readyDevice(), nil), http.MethodGet, "/api/v1/state")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Device string `json:"device"`
		State  struct {
			API map[string]any `json:"api_data"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Kitchen", body.Device)
	assert.Equal(t, "closed", body.State.API["door"])
	assert.Equal(t, true, body.State.API["system"])
}

func TestStateBeforeFirstRefresh(t *testing.T) {
	dev := &fakeDevice{lastErr: errors.New("connection refused")}
	w := do(t, NewRouter(dev, nil), http.MethodGet, "/api/v1/state")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Error)
	assert.Equal(t, "connection refused", resp.Message)
}

func TestEntities(t *testing.T) {
	w := do(t, NewRouter(readyDevice(), nil), http.MethodGet, "/api/v1/entities")
	require.Equal(t, http.StatusOK, w.Code)

	var resp EntitiesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entities, 7)

	states := map[string]string{}
	for _, e := range resp.Entities {
		states[e.ID] = e.State
	}
	assert.Equal(t, "closed", states["door"])
	assert.Equal(t, "on", states["system"])
	assert.Equal(t, "off", states["rfid"])
}

func TestDoorCommands(t *testing.T) {
	dev := readyDevice()
	r := NewRouter(dev, nil)

	w := do(t, r, http.MethodPost, "/api/v1/door/open")
	require.Equal(t, http.StatusOK, w.Code)
	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "open", resp.State)

	w = do(t, r, http.MethodPost, "/api/v1/door/close")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []call{
		{method: "state", key: "door", value: true},
		{method: "state", key: "door", value: false},
	}, dev.calls)
}

func TestSwitchCommands(t *testing.T) {
	tests := []struct {
		path string
		want call
	}{
		{"/api/v1/switches/rfid/on", call{method: "mode", key: "rfid", value: true}},
		{"/api/v1/switches/brightness_sensor/off", call{method: "mode", key: "brightnessSensor", value: false}},
		{"/api/v1/switches/system/off", call{method: "state", key: "system", value: false}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			dev := readyDevice()
			w := do(t, NewRouter(dev, nil), http.MethodPost, tt.path)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []call{tt.want}, dev.calls)
		})
	}
}

func TestSwitchNotFound(t *testing.T) {
	dev := readyDevice()
	r := NewRouter(dev, nil)

	for _, path := range []string{"/api/v1/switches/bogus/on", "/api/v1/switches/door/on"} {
		w := do(t, r, http.MethodPost, path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	assert.Empty(t, dev.calls)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"timeout", fmt.Errorf("%w: %w", petwalk.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"rejected", &petwalk.StatusError{Method: "PUT", Path: "/states", Code: 401}, http.StatusBadGateway, "device_rejected"},
		{"update failed", &coordinator.UpdateFailedError{Err: errors.New("boom")}, http.StatusBadGateway, "update_failed"},
		{"other", errors.New("boom"), http.StatusBadGateway, "device_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := readyDevice()
			dev.cmdErr = tt.err
			w := do(t, NewRouter(dev, nil), http.MethodPost, "/api/v1/switches/system/on")
			assert.Equal(t, tt.code, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Error)
		})
	}
}

func TestRefresh(t *testing.T) {
	dev := readyDevice()
	r := NewRouter(dev, nil)

	w := do(t, r, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, dev.refreshed)

	dev.cmdErr = &coordinator.UpdateFailedError{Err: errors.New("boom")}
	w = do(t, r, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDeviceInfo(t *testing.T) {
	w := do(t, NewRouter(readyDevice(), nil), http.MethodGet, "/api/v1/device")
	require.Equal(t, http.StatusOK, w.Code)

	var info coordinator.DeviceInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "PetWALK", info.Manufacturer)
	assert.Equal(t, "192.0.2.10", info.Identifier)
}
