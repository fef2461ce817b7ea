package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/clients"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/entity"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/monitor"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/polling"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCloud struct {
	opened []bool
}

func (f *fakeCloud) Operate(ctx context.Context, deviceID string, open bool) error {
	f.opened = append(f.opened, open)
	return nil
}

func (f *fakeCloud) SendCommands(ctx context.Context, deviceID string, commands ...tuya.Command) error {
	return nil
}

func (f *fakeCloud) Discover(ctx context.Context, seedIDs []string, category string) ([]tuya.Device, error) {
	return []tuya.Device{{ID: "dev1", Name: "Front door", Category: config.DeviceCategory, Online: true}}, nil
}

func (f *fakeCloud) Device(ctx context.Context, deviceID string) (tuya.Device, error) {
	return tuya.Device{ID: deviceID, Name: "Front door", Category: config.DeviceCategory, Online: true}, nil
}

func (f *fakeCloud) Status(ctx context.Context, deviceID string) (map[string]interface{}, error) {
	return map[string]interface{}{config.DPCodeLockState: false, config.DPCodeBatteryPercentage: 64}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeCloud) {
	logger = zap.NewNop().Sugar()
	cloud := &fakeCloud{}
	manager := entity.NewManager(cloud, lockstate.MF15WiFi01, false, nil, logger)
	_, err := manager.Discover(context.Background(), []string{"dev1"})
	require.NoError(t, err)

	ws := newWebServer(config.BridgeConfig{AllowedAPIKeys: []string{"key1"}, Version: "v1"}, clients.BridgeClients{}, manager)
	srv := httptest.NewServer(ws.router())
	t.Cleanup(srv.Close)
	return srv, cloud
}

func do(t *testing.T, method, url, apiKey string) *http.Response {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("api-key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func Test_APIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, "GET", srv.URL+"/health", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, "GET", srv.URL+"/health", "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, "GET", srv.URL+"/health", "key1").StatusCode)
}

func Test_AllLocksFromMonitors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, "GET", srv.URL+"/api/locks", "key1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Locks []config.LockStatus `json:"locks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Locks, 1)
	assert.Equal(t, "dev1", body.Locks[0].DeviceID)
	assert.Equal(t, "Front door", body.Locks[0].Name)
	assert.Equal(t, config.UNAVAILABLE, body.Locks[0].State)
	assert.Nil(t, body.Locks[0].Battery)
}

func Test_LockAction(t *testing.T) {
	srv, cloud := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(t, "POST", srv.URL+"/api/locks/dev1/unlock", "key1").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, "POST", srv.URL+"/api/locks/dev1/lock", "key1").StatusCode)
	assert.Equal(t, []bool{true, false}, cloud.opened)

	assert.Equal(t, http.StatusNotFound, do(t, "POST", srv.URL+"/api/locks/nope/lock", "key1").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, "GET", srv.URL+"/api/locks/dev1/lock", "key1").StatusCode)
}

func Test_ReportWithoutHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, "GET", srv.URL+"/api/report?device=dev1", "key1").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, "GET", srv.URL+"/api/report?device=dev1&page=1", "key1").StatusCode)
}

func Test_NotificationsFor(t *testing.T) {
	locked := monitor.Snapshot{State: config.LOCKED, Battery: 50, HasBattery: true}
	gone := monitor.Snapshot{State: config.UNAVAILABLE, Battery: 50, HasBattery: true}
	low := monitor.Snapshot{State: config.LOCKED, Battery: 15, HasBattery: true}

	msgs := notificationsFor("Front door", locked, gone, 20)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Front door lock is unavailable", msgs[0].Body)

	assert.Empty(t, notificationsFor("Front door", gone, gone, 20))
	assert.Empty(t, notificationsFor("Front door", monitor.Snapshot{}, gone, 20))

	msgs = notificationsFor("Front door", locked, low, 20)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Front door lock battery is at 15%", msgs[0].Body)

	assert.Empty(t, notificationsFor("Front door", low, low, 20))
}

func Test_LockStatus(t *testing.T) {
	s := monitor.Snapshot{DeviceID: "dev1", State: config.UNLOCKED, Transport: polling.Local}
	status := lockStatus("Front door", s, "v1")
	assert.Equal(t, "local", status.Transport)
	assert.Nil(t, status.Battery)

	s.Battery, s.HasBattery = 70, true
	status = lockStatus("Front door", s, "v1")
	require.NotNil(t, status.Battery)
	assert.Equal(t, 70, *status.Battery)
}

func Test_SplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}

func Test_RunCommand(t *testing.T) {
	logger = zap.NewNop().Sugar()
	cloud := &fakeCloud{}
	l := entity.NewLock(tuya.Device{ID: "dev1"}, lockstate.MF15WiFi01, polling.NewWindow(), monitor.New("dev1", lockstate.MF15WiFi01, polling.NewWindow(), cloud.statusOf("dev1"), nil, logger), cloud, logger)

	require.NoError(t, runCommand(context.Background(), l, config.PayloadUnlock))
	assert.Error(t, runCommand(context.Background(), l, "OPEN"))
	assert.Equal(t, []bool{true}, cloud.opened)
}

func (f *fakeCloud) statusOf(deviceID string) monitor.StatusFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		return f.Status(ctx, deviceID)
	}
}
