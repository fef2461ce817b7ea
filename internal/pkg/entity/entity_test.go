package entity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/monitor"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/polling"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type operation struct {
	deviceID string
	open     bool
}

type fakeCloud struct {
	mu         sync.Mutex
	devices    []tuya.Device
	status     map[string]interface{}
	operateErr error
	commandErr error
	operations []operation
	commands   []tuya.Command
	onOperate  func()
}

func (f *fakeCloud) Operate(ctx context.Context, deviceID string, open bool) error {
	if f.onOperate != nil {
		f.onOperate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, operation{deviceID, open})
	return f.operateErr
}

func (f *fakeCloud) SendCommands(ctx context.Context, deviceID string, commands ...tuya.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, commands...)
	return f.commandErr
}

func (f *fakeCloud) Discover(ctx context.Context, seedIDs []string, category string) ([]tuya.Device, error) {
	return f.devices, nil
}

func (f *fakeCloud) Device(ctx context.Context, deviceID string) (tuya.Device, error) {
	for _, d := range f.devices {
		if d.ID != deviceID {
			continue
		}
		if f.status != nil {
			d.Status = nil
			for code, v := range f.status {
				d.Status = append(d.Status, tuya.StatusItem{Code: code, Value: v})
			}
		}
		return d, nil
	}
	return tuya.Device{}, errors.New("permission deny")
}

func (f *fakeCloud) Status(ctx context.Context, deviceID string) (map[string]interface{}, error) {
	return f.status, nil
}

type fakeState struct {
	snap  monitor.Snapshot
	kicks int
}

func (f *fakeState) Snapshot() monitor.Snapshot {
	return f.snap
}

func (f *fakeState) Kick() {
	f.kicks++
}

type fakeKeys struct {
	keys map[string]string
}

func (f *fakeKeys) ReadLocalKey(ctx context.Context, deviceID string) (string, error) {
	k, ok := f.keys[deviceID]
	if !ok {
		return "", errors.New("not cached")
	}
	return k, nil
}

func (f *fakeKeys) WriteLocalKey(ctx context.Context, deviceID, localKey string) error {
	f.keys[deviceID] = localKey
	return nil
}

var frontDoor = tuya.Device{
	ID:          "dev1",
	Name:        "Front door",
	ProductName: "MF15",
	Category:    config.DeviceCategory,
	Online:      true,
	Status: []tuya.StatusItem{
		{Code: config.DPCodeLockState, Value: false},
		{Code: config.DPCodeBatteryPercentage, Value: 77},
	},
}

func Test_LockRecordsCommand(t *testing.T) {
	cloud := &fakeCloud{}
	state := &fakeState{}
	window := polling.NewWindow()
	l := NewLock(frontDoor, lockstate.MF15WiFi01, window, state, cloud, zap.NewNop().Sugar())

	kicksAtOperate := -1
	cloud.onOperate = func() { kicksAtOperate = state.kicks }

	assert.Equal(t, polling.PassiveCloud, window.Mode(polling.Cloud))

	require.NoError(t, l.Unlock(context.Background()))
	assert.Equal(t, polling.FastCloud, window.Mode(polling.Cloud))
	assert.WithinDuration(t, time.Now(), window.Last(), time.Second)
	// the monitor is woken before the slow cloud calls and again after
	assert.Equal(t, 1, kicksAtOperate)
	assert.Equal(t, 2, state.kicks)
	assert.Equal(t, []operation{{"dev1", true}}, cloud.operations)
	assert.Equal(t, []tuya.Command{{Code: config.DPCodeLockState, Value: true}}, cloud.commands)

	require.NoError(t, l.Lock(context.Background()))
	assert.Equal(t, operation{"dev1", false}, cloud.operations[1])
	assert.Equal(t, tuya.Command{Code: config.DPCodeLockState, Value: false}, cloud.commands[1])
}

func Test_LockOperateError(t *testing.T) {
	cloud := &fakeCloud{operateErr: tuya.ErrOperateRejected}
	state := &fakeState{}
	window := polling.NewWindow()
	l := NewLock(frontDoor, lockstate.MF15WiFi01, window, state, cloud, zap.NewNop().Sugar())

	err := l.Lock(context.Background())
	assert.ErrorIs(t, err, tuya.ErrOperateRejected)
	assert.Empty(t, cloud.commands)
	assert.Equal(t, polling.FastCloud, window.Mode(polling.Cloud))
	assert.Equal(t, 2, state.kicks)
}

func Test_LockCommandErrorIgnored(t *testing.T) {
	cloud := &fakeCloud{commandErr: errors.New("unsupported")}
	l := NewLock(frontDoor, lockstate.MF15WiFi01, polling.NewWindow(), &fakeState{}, cloud, zap.NewNop().Sugar())
	assert.NoError(t, l.Lock(context.Background()))
}

func Test_LockState(t *testing.T) {
	state := &fakeState{}
	l := NewLock(frontDoor, lockstate.MF15WiFi01, polling.NewWindow(), state, &fakeCloud{}, zap.NewNop().Sugar())

	assert.Equal(t, "dev1_lock_motor_state", l.UniqueID())
	assert.Equal(t, "Front door", l.Name())
	assert.Equal(t, config.UNAVAILABLE, l.State())

	state.snap = monitor.Snapshot{State: config.LOCKED, Online: true}
	assert.Equal(t, config.LOCKED, l.State())
}

func Test_Battery(t *testing.T) {
	state := &fakeState{}
	b := NewBattery(frontDoor, lockstate.MF15WiFi01, state)
	require.NotNil(t, b)
	assert.Equal(t, "dev1_residual_electricity", b.UniqueID())

	_, ok := b.Value()
	assert.False(t, ok)
	assert.True(t, b.Available())

	state.snap = monitor.Snapshot{State: config.LOCKED, Battery: 60, HasBattery: true, Online: true}
	assert.True(t, b.Available())

	state.snap = monitor.Snapshot{State: config.UNAVAILABLE, Battery: 50, HasBattery: true}
	assert.False(t, b.Available())
	pct, ok := b.Value()
	assert.True(t, ok)
	assert.Equal(t, 50, pct)

	offline := frontDoor
	offline.Online = false
	assert.False(t, NewBattery(offline, lockstate.MF15WiFi01, &fakeState{}).Available())
}

func Test_BatteryRequiresDP(t *testing.T) {
	d := frontDoor
	d.Status = []tuya.StatusItem{{Code: config.DPCodeLockState, Value: true}}
	assert.Nil(t, NewBattery(d, lockstate.MF15WiFi01, &fakeState{}))
}

func Test_ManagerDiscover(t *testing.T) {
	backDoor := tuya.Device{ID: "dev2", Name: "Back door", Category: config.DeviceCategory, IP: "192.168.1.20"}
	cloud := &fakeCloud{
		devices: []tuya.Device{frontDoor, backDoor},
		status:  map[string]interface{}{config.DPCodeLockState: true},
	}
	keys := &fakeKeys{keys: map[string]string{"dev2": "0123456789abcdef"}}
	m := NewManager(cloud, lockstate.MF15WiFi01, true, keys, zap.NewNop().Sugar())

	added, err := m.Discover(context.Background(), []string{"dev1"})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.NotNil(t, added[0].Battery)
	assert.Nil(t, added[1].Battery)

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "dev1", all[0].Device.ID)

	e, ok := m.Get("dev1")
	require.True(t, ok)
	snap, err := e.Monitor.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.UNLOCKED, snap.State)
	assert.Equal(t, config.UNLOCKED, e.Lock.State())

	added, err = m.Discover(context.Background(), []string{"dev1"})
	require.NoError(t, err)
	assert.Empty(t, added)
}

func Test_ManagerCachesLocalKey(t *testing.T) {
	d := frontDoor
	d.IP = "192.168.1.10"
	d.LocalKey = "abcdef0123456789"
	keys := &fakeKeys{keys: map[string]string{}}
	m := NewManager(&fakeCloud{devices: []tuya.Device{d}}, lockstate.MF15WiFi01, true, keys, zap.NewNop().Sugar())

	_, err := m.Discover(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789", keys.keys["dev1"])
}

func Test_ManagerOfflineDeviceIsUnavailable(t *testing.T) {
	asleep := frontDoor
	asleep.Online = false
	cloud := &fakeCloud{
		devices: []tuya.Device{asleep},
		status:  map[string]interface{}{config.DPCodeLockState: false},
	}
	m := NewManager(cloud, lockstate.MF15WiFi01, false, nil, zap.NewNop().Sugar())

	added, err := m.Discover(context.Background(), []string{"dev1"})
	require.NoError(t, err)
	require.Len(t, added, 1)
	e := added[0]
	assert.False(t, e.Battery.Available())

	snap, err := e.Monitor.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.UNAVAILABLE, snap.State)
	assert.Equal(t, config.UNAVAILABLE, e.Lock.State())
	assert.False(t, e.Battery.Available())

	cloud.devices[0].Online = true
	snap, err = e.Monitor.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.LOCKED, snap.State)
	assert.True(t, e.Battery.Available())
}

type partialCloud struct {
	*fakeCloud
}

func (p partialCloud) Discover(ctx context.Context, seedIDs []string, category string) ([]tuya.Device, error) {
	return p.devices, errors.New("getting device gone: permission deny")
}

func Test_ManagerDiscoverKeepsFoundOnSeedError(t *testing.T) {
	m := NewManager(partialCloud{&fakeCloud{devices: []tuya.Device{frontDoor}}}, lockstate.MF15WiFi01, false, nil, zap.NewNop().Sugar())

	added, err := m.Discover(context.Background(), []string{"gone", "dev1"})
	require.NoError(t, err)
	require.Len(t, added, 1)

	_, err = NewManager(partialCloud{&fakeCloud{}}, lockstate.MF15WiFi01, false, nil, zap.NewNop().Sugar()).Discover(context.Background(), []string{"gone"})
	assert.Error(t, err)
}
