package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/monitor"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/polling"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuyalocal"
	"go.uber.org/zap"
)

// Cloud is the subset of the cloud connector the manager needs.
type Cloud interface {
	Operator
	Discover(ctx context.Context, seedIDs []string, category string) ([]tuya.Device, error)
	Device(ctx context.Context, deviceID string) (tuya.Device, error)
	Status(ctx context.Context, deviceID string) (map[string]interface{}, error)
}

// KeyCache stores LAN keys between runs.
type KeyCache interface {
	ReadLocalKey(ctx context.Context, deviceID string) (string, error)
	WriteLocalKey(ctx context.Context, deviceID, localKey string) error
}

// Entry groups everything the bridge keeps per lock.
type Entry struct {
	Device  tuya.Device
	Window  *polling.Window
	Monitor *monitor.Monitor
	Lock    *Lock
	Battery *Battery
}

type Manager struct {
	cloud        Cloud
	model        lockstate.Model
	localEnabled bool
	keys         KeyCache
	logger       *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewManager creates a manager. keys may be nil.
func NewManager(cloud Cloud, model lockstate.Model, localEnabled bool, keys KeyCache, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cloud:        cloud,
		model:        model,
		localEnabled: localEnabled,
		keys:         keys,
		logger:       logger,
		entries:      map[string]*Entry{},
	}
}

// Discover finds locks reachable from the seed ids and returns the ones not
// already managed. Monitors of new entries are created but not started.
func (m *Manager) Discover(ctx context.Context, seedIDs []string) ([]*Entry, error) {
	devices, err := m.cloud.Discover(ctx, seedIDs, m.model.Category)
	if err != nil {
		if len(devices) == 0 {
			return nil, fmt.Errorf("discovering locks: %w", err)
		}
		m.logger.Warnf("Some locks could not be discovered: %s", err)
	}

	var added []*Entry
	for _, d := range devices {
		m.mu.Lock()
		_, known := m.entries[d.ID]
		m.mu.Unlock()
		if known {
			continue
		}

		e := m.newEntry(ctx, d)

		m.mu.Lock()
		m.entries[d.ID] = e
		m.mu.Unlock()
		added = append(added, e)
		m.logger.Infof("Discovered lock %s (%s)", d.Name, d.ID)
	}
	return added, nil
}

func (m *Manager) newEntry(ctx context.Context, d tuya.Device) *Entry {
	deviceID := d.ID
	cloud := monitor.StatusFunc(func(ctx context.Context) (map[string]interface{}, error) {
		return m.cloudStatus(ctx, deviceID)
	})

	var local monitor.StatusSource
	if ld := m.localDevice(ctx, d); ld != nil {
		local = ld
	}

	window := polling.NewWindow()
	mon := monitor.New(d.ID, m.model, window, cloud, local, m.logger.Named("monitor"))

	return &Entry{
		Device:  d,
		Window:  window,
		Monitor: mon,
		Lock:    NewLock(d, m.model, window, mon, m.cloud, m.logger),
		Battery: NewBattery(d, m.model, mon),
	}
}

// cloudStatus reads the device info so a sleeping lock, whose last status
// the cloud keeps serving, shows up as offline.
func (m *Manager) cloudStatus(ctx context.Context, deviceID string) (map[string]interface{}, error) {
	d, err := m.cloud.Device(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !d.Online {
		return nil, fmt.Errorf("%s: %w", deviceID, monitor.ErrOffline)
	}
	if len(d.Status) > 0 {
		return d.StatusMap(), nil
	}
	return m.cloud.Status(ctx, deviceID)
}

func (m *Manager) localDevice(ctx context.Context, d tuya.Device) *tuyalocal.Device {
	if !m.localEnabled || d.IP == "" {
		return nil
	}

	key := d.LocalKey
	if m.keys != nil {
		if key != "" {
			if err := m.keys.WriteLocalKey(ctx, d.ID, key); err != nil {
				m.logger.Warnf("Caching local key for %s: %s", d.ID, err)
			}
		} else if cached, err := m.keys.ReadLocalKey(ctx, d.ID); err == nil {
			key = cached
		}
	}
	if key == "" {
		return nil
	}

	ld, err := tuyalocal.NewDevice(d.ID, d.IP, key)
	if err != nil {
		m.logger.Warnf("Local polling disabled for %s: %s", d.ID, err)
		return nil
	}
	return ld
}

func (m *Manager) Get(deviceID string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[deviceID]
	return e, ok
}

// All returns the entries ordered by device id.
func (m *Manager) All() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Device.ID < entries[j].Device.ID
	})
	return entries
}
