package outlet

import (
	"fmt"
	"time"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/jaedle/golang-tplink-hs100/pkg/configuration"
	"github.com/jaedle/golang-tplink-hs100/pkg/hs100"
)

// Switch is the part of an HS100 the bridge drives.
type Switch interface {
	TurnOn() error
	TurnOff() error
}

// Outlet follows a lock: on when it unlocks, off when it locks.
type Outlet struct {
	Name   string
	device Switch
}

// Discover scans subnet for an HS100 whose name is name.
func Discover(subnet, name string) (Outlet, error) {
	allDevices, err := hs100.Discover(subnet, configuration.Default().WithTimeout(time.Second))
	if err != nil {
		return Outlet{}, fmt.Errorf("discovering outlets: %w", err)
	}

	for _, d := range allDevices {
		n, err := d.GetName()
		if err != nil {
			return Outlet{}, fmt.Errorf("getting outlet name: %w", err)
		}
		if n == name {
			return New(n, d), nil
		}
	}
	return Outlet{}, fmt.Errorf("no outlet named %s found in %s", name, subnet)
}

func New(name string, device Switch) Outlet {
	return Outlet{Name: name, device: device}
}

// Follow switches the outlet for a lock state. Unavailable leaves it as is.
func (o Outlet) Follow(s config.LockState) error {
	switch s {
	case config.UNLOCKED:
		return o.device.TurnOn()
	case config.LOCKED:
		return o.device.TurnOff()
	}
	return nil
}
