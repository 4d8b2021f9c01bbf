// Package lockdown tracks the fullscreen proctoring state machine. When a
// contest disables fullscreen enforcement the monitor is inert: it never
// transitions and never emits events.
package lockdown

import (
	"context"
	"sync"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/logger"
)

// Display is the platform surface the monitor drives: the Fullscreen API and
// keyboard lock in a browser host, window management in a native agent.
type Display interface {
	EnterFullscreen() error
	LockKeys(keys []string) error
	UnlockKeys()
}

// InterceptedKeys are the reload / devtools / navigation shortcuts the
// monitor consumes while enforcement is on. Consuming them causes no state
// transition; they are simply swallowed.
var InterceptedKeys = []string{
	"F5", "F11", "F12",
	"Ctrl+R", "Ctrl+W", "Ctrl+T", "Ctrl+N",
	"Ctrl+Shift+I", "Ctrl+Shift+J", "Ctrl+Shift+C",
	"Meta+R", "Meta+W", "Alt+F4",
}

type Monitor struct {
	mu sync.Mutex

	enforced bool
	display  Display
	emit     func(activity.Event)

	// onLockChange tells the host to block or unblock gameplay interactions.
	onLockChange func(locked bool)

	fullscreenActive bool
	locked           bool
	violationCount   int
	tornDown         bool

	intercepted map[string]bool
}

func NewMonitor(enforced bool, display Display, emit func(activity.Event), onLockChange func(locked bool)) *Monitor {
	intercepted := make(map[string]bool, len(InterceptedKeys))
	for _, k := range InterceptedKeys {
		intercepted[k] = true
	}
	return &Monitor{
		enforced:     enforced,
		display:      display,
		emit:         emit,
		onLockChange: onLockChange,
		intercepted:  intercepted,
	}
}

// Start attempts to enter fullscreen and lock the intercepted keys. Failure
// to enter is reported but never fails the session; the participant may
// retry manually.
func (m *Monitor) Start(ctx context.Context) {
	if !m.enforced {
		return
	}
	log := logger.FromContext(ctx)
	if err := m.display.EnterFullscreen(); err != nil {
		log.Warn("failed to enter fullscreen, participant may retry", "error", err)
	}
	if err := m.display.LockKeys(InterceptedKeys); err != nil {
		log.Warn("keyboard lock unavailable", "error", err)
	}
}

// FullscreenChanged is the platform's fullscreen-change notification.
// Leaving fullscreen while Active transitions to Locked, emits exactly one
// exit_fullscreen event and bumps the violation count; re-entering while
// Locked transitions back to Active.
func (m *Monitor) FullscreenChanged(active bool) {
	m.mu.Lock()
	if !m.enforced || m.tornDown {
		m.mu.Unlock()
		return
	}
	m.fullscreenActive = active

	var emitViolation bool
	var notify *bool
	if !active && !m.locked {
		m.locked = true
		m.violationCount++
		emitViolation = true
		t := true
		notify = &t
	} else if active && m.locked {
		m.locked = false
		f := false
		notify = &f
	}
	count := m.violationCount
	m.mu.Unlock()

	if emitViolation && m.emit != nil {
		m.emit(activity.New(activity.TypeExitFullscreen, map[string]any{
			"violationCount": count,
		}))
	}
	if notify != nil && m.onLockChange != nil {
		m.onLockChange(*notify)
	}
}

// Remediate is the single action reachable while Locked: request fullscreen
// again. The resulting FullscreenChanged(true) notification clears the lock.
func (m *Monitor) Remediate() error {
	m.mu.Lock()
	if !m.enforced || m.tornDown {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.display.EnterFullscreen()
}

// VisibilityChanged emits informational tab_switch / tab_focus events. They
// are reported regardless of lockdown state but only while enforcement is on;
// they never block anything.
func (m *Monitor) VisibilityChanged(visible bool) {
	m.mu.Lock()
	inert := !m.enforced || m.tornDown
	m.mu.Unlock()
	if inert || m.emit == nil {
		return
	}
	if visible {
		m.emit(activity.New(activity.TypeTabFocus, nil))
	} else {
		m.emit(activity.New(activity.TypeTabSwitch, nil))
	}
}

// KeyDown reports whether the host must consume (preventDefault) the key.
// No state change either way.
func (m *Monitor) KeyDown(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enforced || m.tornDown {
		return false
	}
	return m.intercepted[key]
}

func (m *Monitor) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

func (m *Monitor) FullscreenActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullscreenActive
}

// ViolationCount is monotonically non-decreasing for the whole session; it
// never resets.
func (m *Monitor) ViolationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violationCount
}

// Teardown releases the keyboard lock and makes the monitor inert.
func (m *Monitor) Teardown() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	enforced := m.enforced
	m.mu.Unlock()
	if enforced {
		m.display.UnlockKeys()
	}
}
