package config

import "time"

const (
	// Tuya category reported by the JTMSBH MF15 lock family.
	DeviceCategory = "jtmsbh"

	// DPCodes for the MF15 WiFi 01 variant.
	DPCodeLockState         = "lock_motor_state"
	DPCodeBatteryPercentage = "residual_electricity"

	// LAN protocol exposes lock_motor_state as DP 1.
	LocalDPLockState = "1"

	HADiscoveryPrefix = "homeassistant"
	NodeID            = "mf15"
	TopicPrefix       = "mf15"

	PayloadLock     = "LOCK"
	PayloadUnlock   = "UNLOCK"
	PayloadLocked   = "LOCKED"
	PayloadUnlocked = "UNLOCKED"
	PayloadOnline   = "online"
	PayloadOffline  = "offline"

	DefaultLowBattery = 20
	DefaultMQTTPort   = "1883"
	DefaultMQTTScheme = "mqtts"

	// In local mode the battery DP is not part of the LAN status, so it
	// is refreshed from the cloud on this cadence.
	BatteryRefreshInterval = 10 * time.Minute
)

// LockState is the entity-level state in the string form HA and the
// history table use.
type LockState string

const (
	LOCKED      LockState = "locked"
	UNLOCKED    LockState = "unlocked"
	UNAVAILABLE LockState = "unavailable"
)

type LockStatus struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	State     LockState `json:"state"`
	Battery   *int      `json:"battery,omitempty"`
	Transport string    `json:"transport"`
	Timestamp string    `json:"timestamp"`
	Version   string    `json:"version"`
}
