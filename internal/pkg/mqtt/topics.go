package mqtt

import (
	"fmt"
	"strings"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
)

// Topics builds the topic names for the lock entities:
//
//	homeassistant/lock/mf15/<id>/config
//	mf15/<id>/lock/state
//	mf15/<id>/lock/set
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
	NodeID          string
}

func DefaultTopics() Topics {
	return Topics{
		Prefix:          config.TopicPrefix,
		DiscoveryPrefix: config.HADiscoveryPrefix,
		NodeID:          config.NodeID,
	}
}

func (t Topics) LockConfig(deviceID string) string {
	return fmt.Sprintf("%s/lock/%s/%s/config", t.DiscoveryPrefix, t.NodeID, deviceID)
}

func (t Topics) BatteryConfig(deviceID string) string {
	return fmt.Sprintf("%s/sensor/%s/%s_battery/config", t.DiscoveryPrefix, t.NodeID, deviceID)
}

func (t Topics) LockState(deviceID string) string {
	return fmt.Sprintf("%s/%s/lock/state", t.Prefix, deviceID)
}

func (t Topics) LockCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/lock/set", t.Prefix, deviceID)
}

func (t Topics) BatteryState(deviceID string) string {
	return fmt.Sprintf("%s/%s/battery/state", t.Prefix, deviceID)
}

func (t Topics) Availability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, deviceID)
}

func (t Topics) BridgeAvailability() string {
	return fmt.Sprintf("%s/bridge/availability", t.Prefix)
}

// LockCommandAll matches the command topic of every lock.
func (t Topics) LockCommandAll() string {
	return t.LockCommand("+")
}

// DeviceFromCommand extracts the device id from a lock command topic.
func (t Topics) DeviceFromCommand(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != t.Prefix || parts[2] != "lock" || parts[3] != "set" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
