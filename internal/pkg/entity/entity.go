package entity

import (
	"context"
	"fmt"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/monitor"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/polling"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	"go.uber.org/zap"
)

// Operator performs lock commands against the cloud.
type Operator interface {
	Operate(ctx context.Context, deviceID string, open bool) error
	SendCommands(ctx context.Context, deviceID string, commands ...tuya.Command) error
}

// StateSource is what an entity reads its state from.
type StateSource interface {
	Snapshot() monitor.Snapshot
	Kick()
}

// Lock is the lock entity of one device.
type Lock struct {
	device tuya.Device
	model  lockstate.Model
	window *polling.Window
	state  StateSource
	op     Operator
	logger *zap.SugaredLogger
}

func NewLock(device tuya.Device, model lockstate.Model, window *polling.Window, state StateSource, op Operator, logger *zap.SugaredLogger) *Lock {
	return &Lock{
		device: device,
		model:  model,
		window: window,
		state:  state,
		op:     op,
		logger: logger,
	}
}

func (l *Lock) UniqueID() string {
	return fmt.Sprintf("%s_%s", l.device.ID, l.model.Lock.Key)
}

// Name is the device name; the entity carries no name of its own.
func (l *Lock) Name() string {
	return l.device.Name
}

func (l *Lock) State() config.LockState {
	s := l.state.Snapshot().State
	if s == "" {
		return config.UNAVAILABLE
	}
	return s
}

func (l *Lock) Lock(ctx context.Context) error {
	return l.operate(ctx, config.LOCKED)
}

func (l *Lock) Unlock(ctx context.Context) error {
	return l.operate(ctx, config.UNLOCKED)
}

// operate switches polling to the fast cadence, asks the cloud for a
// password-free operation, then writes the DP directly as a fallback for
// firmware that ignores door-operate.
func (l *Lock) operate(ctx context.Context, target config.LockState) error {
	l.window.Record()
	l.state.Kick()
	defer l.state.Kick()

	open := target == config.UNLOCKED
	if err := l.op.Operate(ctx, l.device.ID, open); err != nil {
		l.logger.Errorf("Failed to %s %s: %s", action(target), l.device.ID, err)
		return fmt.Errorf("%s %s: %w", action(target), l.device.ID, err)
	}

	cmd := tuya.Command{Code: l.model.Lock.Key, Value: lockstate.RawValue(target, l.model.Lock)}
	if err := l.op.SendCommands(ctx, l.device.ID, cmd); err != nil {
		l.logger.Debugf("DP command after %s for %s failed: %s", action(target), l.device.ID, err)
	}
	return nil
}

func action(target config.LockState) string {
	if target == config.UNLOCKED {
		return "unlock"
	}
	return "lock"
}

// Battery is the battery sensor entity of one device.
type Battery struct {
	device tuya.Device
	model  lockstate.Model
	state  StateSource
}

// NewBattery returns nil when the device does not report the battery DP.
func NewBattery(device tuya.Device, model lockstate.Model, state StateSource) *Battery {
	if _, ok := device.StatusMap()[model.BatteryKey]; !ok {
		return nil
	}
	return &Battery{device: device, model: model, state: state}
}

func (b *Battery) UniqueID() string {
	return fmt.Sprintf("%s_%s", b.device.ID, b.model.BatteryKey)
}

// Value is the last known percentage. ok is false until one was read.
func (b *Battery) Value() (int, bool) {
	s := b.state.Snapshot()
	return s.Battery, s.HasBattery
}

// Available follows the device being online: online on the last poll, or
// reported online by the cloud before the first poll.
func (b *Battery) Available() bool {
	s := b.state.Snapshot()
	if s.State == "" {
		return b.device.Online
	}
	return s.Online
}
