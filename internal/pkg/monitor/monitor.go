package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/polling"
	"go.uber.org/zap"
)

const (
	errorBackoff = 5 * time.Second
	// consecutive failed polls before the lock is reported unavailable
	unreachableAfter = 3
)

// ErrOffline is returned by a StatusSource when the cloud reports the
// device offline. Any status it still holds is stale.
var ErrOffline = errors.New("device offline")

// StatusSource returns the raw status map of one device.
type StatusSource interface {
	Status(ctx context.Context) (map[string]interface{}, error)
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func(ctx context.Context) (map[string]interface{}, error)

func (f StatusFunc) Status(ctx context.Context) (map[string]interface{}, error) {
	return f(ctx)
}

type Snapshot struct {
	DeviceID   string
	State      config.LockState
	Battery    int
	HasBattery bool
	Online     bool
	Transport  polling.Transport
	Mode       polling.Mode
	At         time.Time
}

func (s Snapshot) changed(o Snapshot) bool {
	return s.State != o.State || s.Online != o.Online || s.HasBattery != o.HasBattery || s.Battery != o.Battery
}

type Listener func(Snapshot)

// Monitor polls one lock, locally when possible, and tells listeners when
// its mapped state changes.
type Monitor struct {
	deviceID string
	model    lockstate.Model
	window   *polling.Window
	cloud    StatusSource
	local    StatusSource
	logger   *zap.SugaredLogger
	kick     chan struct{}
	now      func() time.Time

	mu        sync.Mutex
	transport polling.Transport
	listeners []Listener
	last      Snapshot
	failures  int
	battery   int
	hasBatt   bool
	batteryAt time.Time
}

// New creates a monitor. local may be nil when the device has no LAN
// address or key.
func New(deviceID string, model lockstate.Model, window *polling.Window, cloud, local StatusSource, logger *zap.SugaredLogger) *Monitor {
	return &Monitor{
		deviceID:  deviceID,
		model:     model,
		window:    window,
		cloud:     cloud,
		local:     local,
		logger:    logger,
		kick:      make(chan struct{}, 1),
		now:       time.Now,
		transport: polling.Cloud,
	}
}

func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Monitor) Transport() polling.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start picks the transport: local when the LAN check succeeds, cloud otherwise.
func (m *Monitor) Start(ctx context.Context) polling.Transport {
	t := polling.Cloud
	if m.local != nil {
		if _, err := m.local.Status(ctx); err != nil {
			m.logger.Debugf("LAN check failed for %s, using cloud polling: %s", m.deviceID, err)
		} else {
			t = polling.Local
		}
	}

	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	m.logger.Infof("Monitoring %s over %s", m.deviceID, t)
	return t
}

// Kick wakes the loop for an immediate poll.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done, sleeping for whatever interval the command
// window selects after each poll.
func (m *Monitor) Run(ctx context.Context) {
	for {
		_, err := m.Poll(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}

		mode := m.window.Mode(m.Transport())
		wait := mode.Interval()
		if err != nil {
			m.logger.Debugf("%s polling error for %s: %s", m.Transport(), m.deviceID, err)
			if wait > errorBackoff {
				wait = errorBackoff
			}
		}
		if mode.Fast() {
			m.logger.Debugf("Fast polling %s until %s", m.deviceID, m.window.Last().Add(polling.FastWindow).Format(time.RFC3339))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Poll reads status once and notifies listeners on a change. A device the
// cloud reports offline is unavailable at once; a failed poll produces an
// unavailable snapshot once failures pile up.
func (m *Monitor) Poll(ctx context.Context) (Snapshot, error) {
	transport := m.Transport()
	status, err := m.status(ctx, transport)

	m.mu.Lock()
	snap := Snapshot{
		DeviceID:  m.deviceID,
		Transport: transport,
		Mode:      m.window.Mode(transport),
		At:        m.now(),
	}

	if errors.Is(err, ErrOffline) {
		m.failures = 0
		err = nil
		snap.State = config.UNAVAILABLE
		snap.Battery, snap.HasBattery = m.battery, m.hasBatt
	} else if err != nil {
		m.failures++
		if m.failures < unreachableAfter || m.last.State == config.UNAVAILABLE {
			m.mu.Unlock()
			return m.Snapshot(), err
		}
		snap.State = config.UNAVAILABLE
		snap.Battery, snap.HasBattery = m.last.Battery, m.last.HasBattery
	} else {
		m.failures = 0
		snap.Online = true
		snap.State = lockstate.FromStatus(status, m.model.Lock)
		if pct, ok := lockstate.Battery(status, m.model.BatteryKey); ok {
			m.battery, m.hasBatt = pct, true
		}
		snap.Battery, snap.HasBattery = m.battery, m.hasBatt
	}

	prev := m.last
	changed := snap.changed(prev)
	m.last = snap
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if changed {
		m.logger.Debugf("%s detected %s lock state change (%s): %s -> %s", transport, m.deviceID, snap.Mode, prev.State, snap.State)
		for _, l := range listeners {
			l(snap)
		}
	}
	return snap, err
}

func (m *Monitor) status(ctx context.Context, t polling.Transport) (map[string]interface{}, error) {
	if t == polling.Cloud || m.local == nil {
		return m.cloud.Status(ctx)
	}

	dps, err := m.local.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("local status: %w", err)
	}

	status := map[string]interface{}{}
	if v, ok := dps[m.model.LocalLockDP]; ok {
		status[m.model.Lock.Key] = v
	}

	m.mu.Lock()
	stale := m.batteryAt.IsZero() || m.now().Sub(m.batteryAt) >= config.BatteryRefreshInterval
	m.mu.Unlock()

	if stale {
		cloudStatus, err := m.cloud.Status(ctx)
		if err != nil {
			m.logger.Debugf("refreshing battery for %s from cloud: %s", m.deviceID, err)
		} else {
			if v, ok := cloudStatus[m.model.BatteryKey]; ok {
				status[m.model.BatteryKey] = v
			}
			m.mu.Lock()
			m.batteryAt = m.now()
			m.mu.Unlock()
		}
	}
	return status, nil
}
