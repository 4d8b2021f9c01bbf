package lockdown

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/proctor/activity"
)

type fakeDisplay struct {
	mu          sync.Mutex
	enterCalls  int
	enterErr    error
	keysLocked  bool
	unlockCalls int
}

func (d *fakeDisplay) EnterFullscreen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enterCalls++
	return d.enterErr
}

func (d *fakeDisplay) LockKeys(keys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keysLocked = true
	return nil
}

func (d *fakeDisplay) UnlockKeys() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unlockCalls++
}

type recorder struct {
	mu     sync.Mutex
	events []activity.Event
	locks  []bool
}

func (r *recorder) emit(ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) lockChange(locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = append(r.locks, locked)
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func TestFullscreenExitLocksAndEmitsOnce(t *testing.T) {
	display := &fakeDisplay{}
	rec := &recorder{}
	m := NewMonitor(true, display, rec.emit, rec.lockChange)
	m.Start(context.Background())
	m.FullscreenChanged(true)

	m.FullscreenChanged(false)

	assert.True(t, m.Locked())
	assert.False(t, m.FullscreenActive())
	assert.Equal(t, 1, m.ViolationCount())
	assert.Equal(t, []string{activity.TypeExitFullscreen}, rec.eventTypes())
	assert.Equal(t, []bool{true}, rec.locks)

	// remediation re-enters fullscreen, the platform notification unlocks
	require.NoError(t, m.Remediate())
	m.FullscreenChanged(true)
	assert.False(t, m.Locked())
	assert.Equal(t, []bool{true, false}, rec.locks)
	assert.Equal(t, 1, m.ViolationCount())
}

func TestViolationCountMonotonic(t *testing.T) {
	rec := &recorder{}
	m := NewMonitor(true, &fakeDisplay{}, rec.emit, rec.lockChange)

	last := 0
	for i := 0; i < 5; i++ {
		m.FullscreenChanged(false)
		m.FullscreenChanged(true)
		count := m.ViolationCount()
		if count < last {
			t.Fatalf("violation count decreased from %d to %d", last, count)
		}
		last = count
	}
	assert.Equal(t, 5, last)

	// locked implies not fullscreen
	m.FullscreenChanged(false)
	assert.True(t, m.Locked())
	assert.False(t, m.FullscreenActive())
}

func TestRepeatedExitNotificationsEmitOnce(t *testing.T) {
	rec := &recorder{}
	m := NewMonitor(true, &fakeDisplay{}, rec.emit, rec.lockChange)

	m.FullscreenChanged(false)
	m.FullscreenChanged(false)
	m.FullscreenChanged(false)

	assert.Equal(t, 1, m.ViolationCount())
	assert.Len(t, rec.eventTypes(), 1)
}

func TestInertWhenEnforcementDisabled(t *testing.T) {
	display := &fakeDisplay{}
	rec := &recorder{}
	m := NewMonitor(false, display, rec.emit, rec.lockChange)
	m.Start(context.Background())

	m.FullscreenChanged(false)
	m.VisibilityChanged(false)

	assert.False(t, m.Locked())
	assert.Equal(t, 0, m.ViolationCount())
	assert.Empty(t, rec.eventTypes())
	assert.False(t, m.KeyDown("F12"))
	assert.Equal(t, 0, display.enterCalls)
}

func TestStartToleratesFullscreenFailure(t *testing.T) {
	display := &fakeDisplay{enterErr: errors.New("denied by platform")}
	rec := &recorder{}
	m := NewMonitor(true, display, rec.emit, rec.lockChange)

	m.Start(context.Background())

	// failure to enter is reported, never fatal; no violation yet
	assert.Equal(t, 0, m.ViolationCount())
	assert.False(t, m.Locked())
}

func TestKeyInterception(t *testing.T) {
	m := NewMonitor(true, &fakeDisplay{}, nil, nil)

	assert.True(t, m.KeyDown("F5"))
	assert.True(t, m.KeyDown("Ctrl+Shift+I"))
	assert.False(t, m.KeyDown("a"))
	assert.False(t, m.KeyDown("Ctrl+C"))

	// interception causes no state change
	assert.False(t, m.Locked())
	assert.Equal(t, 0, m.ViolationCount())
}

func TestVisibilityEventsInformational(t *testing.T) {
	rec := &recorder{}
	m := NewMonitor(true, &fakeDisplay{}, rec.emit, rec.lockChange)

	m.VisibilityChanged(false)
	m.VisibilityChanged(true)

	assert.Equal(t, []string{activity.TypeTabSwitch, activity.TypeTabFocus}, rec.eventTypes())
	assert.False(t, m.Locked(), "visibility events never block")

	// reported even while locked
	m.FullscreenChanged(false)
	m.VisibilityChanged(false)
	assert.Contains(t, rec.eventTypes(), activity.TypeTabSwitch)
	assert.Len(t, rec.eventTypes(), 4)
}

func TestTeardownReleasesKeyboardAndGoesInert(t *testing.T) {
	display := &fakeDisplay{}
	rec := &recorder{}
	m := NewMonitor(true, display, rec.emit, rec.lockChange)
	m.Start(context.Background())

	m.Teardown()
	assert.Equal(t, 1, display.unlockCalls)

	m.FullscreenChanged(false)
	assert.Equal(t, 0, m.ViolationCount())
	assert.Empty(t, rec.eventTypes())

	m.Teardown()
	assert.Equal(t, 1, display.unlockCalls, "teardown is idempotent")
}
