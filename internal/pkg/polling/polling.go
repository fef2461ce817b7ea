package polling

import (
	"sync"
	"time"
)

// Transport is how status reaches the bridge.
type Transport int

const (
	Local Transport = iota
	Cloud
)

func (t Transport) String() string {
	if t == Local {
		return "local"
	}
	return "cloud"
}

type Mode int

const (
	PassiveLocal Mode = iota
	PassiveCloud
	FastLocal
	FastCloud
)

// FastWindow is how long after the most recent command polling stays fast.
const FastWindow = 30 * time.Second

var intervals = map[Mode]time.Duration{
	PassiveLocal: 5 * time.Second,
	PassiveCloud: 10 * time.Second,
	FastLocal:    1 * time.Second,
	FastCloud:    2 * time.Second,
}

var modeNames = map[Mode]string{
	PassiveLocal: "passive-local",
	PassiveCloud: "passive-cloud",
	FastLocal:    "fast-local",
	FastCloud:    "fast-cloud",
}

func (m Mode) Interval() time.Duration {
	return intervals[m]
}

func (m Mode) Fast() bool {
	return m == FastLocal || m == FastCloud
}

func (m Mode) String() string {
	return modeNames[m]
}

// Select picks the polling mode for a transport given the time elapsed since
// the last issued command.
func Select(t Transport, sinceCommand time.Duration) Mode {
	fast := sinceCommand < FastWindow
	switch {
	case t == Local && fast:
		return FastLocal
	case t == Local:
		return PassiveLocal
	case fast:
		return FastCloud
	default:
		return PassiveCloud
	}
}

// Window holds the timestamp of the most recent lock/unlock command. A new
// command restarts the window; nothing else extends it.
type Window struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewWindow() *Window {
	return &Window{now: time.Now}
}

// Record marks a command as issued now and returns the timestamp.
func (w *Window) Record() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = w.now()
	return w.last
}

func (w *Window) Last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Mode is the current polling mode for t. With no command recorded the
// mode is passive.
func (w *Window) Mode(t Transport) Mode {
	w.mu.Lock()
	last := w.last
	now := w.now()
	w.mu.Unlock()

	if last.IsZero() {
		return Select(t, FastWindow)
	}
	return Select(t, now.Sub(last))
}

func (w *Window) Interval(t Transport) time.Duration {
	return w.Mode(t).Interval()
}
