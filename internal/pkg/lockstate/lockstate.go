package lockstate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
)

// Description ties a lock entity to the DPCode it reads. By default a raw
// true means unlocked; Inverted flips that for variants that report true
// when the bolt is thrown.
type Description struct {
	Key      string
	Inverted bool
}

// Model is one supported lock variant.
type Model struct {
	Name       string
	Category   string
	Lock       Description
	BatteryKey string
	// LocalLockDP is the LAN dps index carrying the Lock DPCode.
	LocalLockDP string
}

var MF15WiFi01 = Model{
	Name:        "MF15 WiFi 01",
	Category:    config.DeviceCategory,
	Lock:        Description{Key: config.DPCodeLockState},
	BatteryKey:  config.DPCodeBatteryPercentage,
	LocalLockDP: config.LocalDPLockState,
}

// Map translates a raw property value. present is false when the device
// did not report the property at all.
func Map(raw interface{}, present bool, inverted bool) config.LockState {
	if !present || raw == nil {
		return config.UNAVAILABLE
	}

	v, ok := parseBool(raw)
	if !ok {
		return config.UNAVAILABLE
	}

	unlocked := v
	if inverted {
		unlocked = !v
	}

	if unlocked {
		return config.UNLOCKED
	}
	return config.LOCKED
}

// FromStatus maps the DPCode named by d out of a device status map.
func FromStatus(status map[string]interface{}, d Description) config.LockState {
	raw, ok := status[d.Key]
	return Map(raw, ok, d.Inverted)
}

// RawValue is the value to write to the DPCode to reach the target state.
func RawValue(target config.LockState, d Description) bool {
	v := target == config.UNLOCKED
	if d.Inverted {
		return !v
	}
	return v
}

// Battery returns the battery percentage clamped to 0..100. ok is false when
// the DPCode is absent or not numeric.
func Battery(status map[string]interface{}, key string) (int, bool) {
	raw, ok := status[key]
	if !ok || raw == nil {
		return 0, false
	}

	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}

	if math.IsNaN(f) {
		return 0, false
	}

	pct := int(math.Round(f))
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return pct, true
}

func parseBool(raw interface{}) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
