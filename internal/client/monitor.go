package client

import (
	"context"
	"sync"
	"time"
)

// State is the monitor's position in the inactivity lifecycle.
type State int

const (
	StateActive State = iota
	StateWarning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

const (
	defaultInactivityWindow = 15 * time.Minute
	defaultWarningLead      = time.Minute
)

// SessionAPI is what the monitor needs from the auth gateway client.
type SessionAPI interface {
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// MonitorConfig sizes the inactivity machine. The warning fires
// InactivityWindow - WarningLead after the last activity; expiry follows
// WarningLead later if nothing intervenes.
type MonitorConfig struct {
	InactivityWindow time.Duration
	WarningLead      time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = defaultInactivityWindow
	}
	if c.WarningLead <= 0 || c.WarningLead >= c.InactivityWindow {
		c.WarningLead = defaultWarningLead
	}
}

// Monitor is the UI-agnostic inactivity state machine:
//
//	ACTIVE -(window-lead elapses)-> WARNING -(lead elapses)-> EXPIRED
//
// Any user activity in ACTIVE or WARNING resets to ACTIVE. The monitor owns
// no UI; it publishes typed events on its Bus and a warning dialog or
// redirect layer subscribes. Timer callbacks carry a generation counter so
// a timer cancelled logically but already fired by the runtime can never
// move a state that has already changed.
type Monitor struct {
	cfg      MonitorConfig
	api      SessionAPI
	snapshot SnapshotStore
	bus      *Bus

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu          sync.Mutex
	state       State
	gen         uint64
	warnTimer   *time.Timer
	expireTimer *time.Timer
	reason      string
}

func NewMonitor(cfg MonitorConfig, api SessionAPI, snapshot SnapshotStore, bus *Bus) *Monitor {
	cfg.applyDefaults()
	if bus == nil {
		bus = NewBus()
	}
	return &Monitor{
		cfg:       cfg,
		api:       api,
		snapshot:  snapshot,
		bus:       bus,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

func (m *Monitor) Bus() *Bus { return m.bus }

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason reports why the monitor expired; empty until EXPIRED.
func (m *Monitor) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Start arms the machine in ACTIVE. Restarting an expired monitor rearms it,
// which is what a fresh login does.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.resetToActiveLocked()
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventActive})
}

// Stop cancels outstanding timers without publishing anything.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.cancelTimersLocked()
}

// RecordActivity handles any user-interaction signal (pointer, key, scroll,
// touch). In ACTIVE or WARNING it resets the machine to ACTIVE and restarts
// the inactivity timer from zero; in EXPIRED it is ignored.
func (m *Monitor) RecordActivity() {
	m.mu.Lock()
	if m.state == StateExpired {
		m.mu.Unlock()
		return
	}
	wasWarning := m.state == StateWarning
	m.resetToActiveLocked()
	m.mu.Unlock()

	if wasWarning {
		m.bus.Publish(Event{Type: EventActive})
	}
}

// Continue is the warning dialog's "stay signed in" action: one silent
// refresh. Success returns to ACTIVE with timers restarted; failure expires
// the session immediately.
func (m *Monitor) Continue(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateWarning {
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	m.mu.Unlock()

	if err := m.api.Refresh(ctx); err != nil {
		m.expire("Session could not be renewed, please login again")
		return err
	}

	// The expiry timer may have fired while the refresh was in flight; an
	// already-expired machine stays expired.
	m.mu.Lock()
	if gen != m.gen || m.state != StateWarning {
		m.mu.Unlock()
		return nil
	}
	m.resetToActiveLocked()
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventActive})
	return nil
}

// LogoutNow is the warning dialog's explicit logout action. The server call
// is best effort; the local session expires regardless.
func (m *Monitor) LogoutNow(ctx context.Context) {
	_ = m.api.Logout(ctx)
	m.expire("You have been logged out")
}

// OnVisibilityRegained re-validates the snapshot when a backgrounded tab
// comes back. A snapshot that lapsed while the tab slept expires the
// session without waiting for a timer; a live one counts as activity.
func (m *Monitor) OnVisibilityRegained() {
	snapshot, present, err := m.snapshot.Load()
	if err != nil || !present || snapshot.ExpiredAt(m.now()) {
		m.expire("Session expired while the tab was inactive")
		return
	}
	m.RecordActivity()
}

// OnStorageChanged handles the cross-tab signal that another tab rewrote or
// cleared the shared snapshot, so a logout in one tab is honored in
// siblings without waiting for a timer.
func (m *Monitor) OnStorageChanged() {
	_, present, err := m.snapshot.Load()
	if err != nil || !present {
		m.expire("You have been logged out in another tab")
		return
	}
	m.RecordActivity()
}

// resetToActiveLocked moves to ACTIVE and restarts the warning timer.
// Bumping the generation first invalidates any timer that already fired and
// is waiting on the mutex.
func (m *Monitor) resetToActiveLocked() {
	m.gen++
	m.cancelTimersLocked()
	m.state = StateActive
	m.reason = ""

	gen := m.gen
	m.warnTimer = m.afterFunc(m.cfg.InactivityWindow-m.cfg.WarningLead, func() {
		m.enterWarning(gen)
	})
}

func (m *Monitor) enterWarning(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.state = StateWarning
	m.expireTimer = m.afterFunc(m.cfg.WarningLead, func() {
		m.expireFromTimer(gen)
	})
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventWarning, Countdown: m.cfg.WarningLead})
}

func (m *Monitor) expireFromTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateWarning {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.expire("Session expired due to inactivity")
}

func (m *Monitor) expire(reason string) {
	m.mu.Lock()
	if m.state == StateExpired {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.cancelTimersLocked()
	m.state = StateExpired
	m.reason = reason
	m.mu.Unlock()

	_ = m.snapshot.Clear()
	m.bus.Publish(Event{Type: EventExpired, Reason: reason})
}

func (m *Monitor) cancelTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
}
