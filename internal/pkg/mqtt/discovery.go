package mqtt

import (
	"fmt"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
)

const manufacturer = "JTMSBH"

type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type Availability struct {
	Topic string `json:"topic"`
}

// LockDiscovery is the HA discovery payload for the lock entity. A null
// name makes HA use the device name alone.
type LockDiscovery struct {
	Name             *string         `json:"name"`
	UniqueID         string          `json:"unique_id"`
	StateTopic       string          `json:"state_topic"`
	CommandTopic     string          `json:"command_topic"`
	PayloadLock      string          `json:"payload_lock"`
	PayloadUnlock    string          `json:"payload_unlock"`
	StateLocked      string          `json:"state_locked"`
	StateUnlocked    string          `json:"state_unlocked"`
	Availability     []Availability  `json:"availability"`
	AvailabilityMode string          `json:"availability_mode"`
	Icon             string          `json:"icon"`
	Device           DiscoveryDevice `json:"device"`
}

type SensorDiscovery struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	DeviceClass       string          `json:"device_class"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	StateClass        string          `json:"state_class"`
	EntityCategory    string          `json:"entity_category"`
	Availability      []Availability  `json:"availability"`
	AvailabilityMode  string          `json:"availability_mode"`
	Icon              string          `json:"icon"`
	Device            DiscoveryDevice `json:"device"`
}

// EntityDevice describes the physical lock the entities belong to.
type EntityDevice struct {
	ID          string
	Name        string
	ProductName string
}

func (t Topics) discoveryDevice(d EntityDevice, version string) DiscoveryDevice {
	return DiscoveryDevice{
		Identifiers:  []string{fmt.Sprintf("%s_%s", t.NodeID, d.ID)},
		Name:         d.Name,
		Model:        fmt.Sprintf("%s %s", manufacturer, d.ProductName),
		Manufacturer: manufacturer,
		SWVersion:    version,
	}
}

func (t Topics) availability(deviceID string) []Availability {
	return []Availability{
		{Topic: t.BridgeAvailability()},
		{Topic: t.Availability(deviceID)},
	}
}

func (t Topics) LockDiscovery(d EntityDevice, version string) LockDiscovery {
	return LockDiscovery{
		UniqueID:         fmt.Sprintf("%s_%s", d.ID, config.DPCodeLockState),
		StateTopic:       t.LockState(d.ID),
		CommandTopic:     t.LockCommand(d.ID),
		PayloadLock:      config.PayloadLock,
		PayloadUnlock:    config.PayloadUnlock,
		StateLocked:      config.PayloadLocked,
		StateUnlocked:    config.PayloadUnlocked,
		Availability:     t.availability(d.ID),
		AvailabilityMode: "all",
		Icon:             "mdi:lock",
		Device:           t.discoveryDevice(d, version),
	}
}

func (t Topics) BatteryDiscovery(d EntityDevice, version string) SensorDiscovery {
	return SensorDiscovery{
		Name:              "Battery",
		UniqueID:          fmt.Sprintf("%s_%s", d.ID, config.DPCodeBatteryPercentage),
		StateTopic:        t.BatteryState(d.ID),
		DeviceClass:       "battery",
		UnitOfMeasurement: "%",
		StateClass:        "measurement",
		EntityCategory:    "diagnostic",
		Availability:      t.availability(d.ID),
		AvailabilityMode:  "all",
		Icon:              "mdi:battery-lock",
		Device:            t.discoveryDevice(d, version),
	}
}

// LockPayload is the state topic payload for s. ok is false for
// unavailable, which is signalled through availability instead.
func LockPayload(s config.LockState) (string, bool) {
	switch s {
	case config.LOCKED:
		return config.PayloadLocked, true
	case config.UNLOCKED:
		return config.PayloadUnlocked, true
	}
	return "", false
}
