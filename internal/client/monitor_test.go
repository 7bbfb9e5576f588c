package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scheduledTimer struct {
	d time.Duration
	f func()
}

// fakeTimers records AfterFunc calls so tests drive the machine without
// real sleeps. The returned timers are armed far in the future and never
// fire on their own.
type fakeTimers struct {
	mu        sync.Mutex
	scheduled []scheduledTimer
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) *time.Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.scheduled = append(ft.scheduled, scheduledTimer{d: d, f: f})
	return time.AfterFunc(10*time.Hour, func() {})
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.scheduled)
}

func (ft *fakeTimers) at(i int) scheduledTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.scheduled[i]
}

type fakeAPI struct {
	mu           sync.Mutex
	refreshErr   error
	refreshFn    func() error
	refreshCalls int
	logoutCalls  int
}

func (f *fakeAPI) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	err := f.refreshErr
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return err
}

func (f *fakeAPI) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) last() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

func newTestMonitor(t *testing.T, cfg MonitorConfig, api *fakeAPI) (*Monitor, *fakeTimers, *MemorySnapshotStore, *eventLog) {
	t.Helper()
	timers := &fakeTimers{}
	snapshot := NewMemorySnapshotStore()
	monitor := NewMonitor(cfg, api, snapshot, nil)
	monitor.afterFunc = timers.afterFunc

	log := &eventLog{}
	unsubscribe := monitor.Bus().Subscribe(log.record)
	t.Cleanup(unsubscribe)

	return monitor, timers, snapshot, log
}

func TestMonitor_WarningThenContinueRestartsWindow(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	cfg := MonitorConfig{InactivityWindow: 3 * time.Minute, WarningLead: 30 * time.Second}
	monitor, timers, _, log := newTestMonitor(t, cfg, api)

	monitor.Start()
	require.Equal(t, StateActive, monitor.State())
	require.Equal(t, 1, timers.count())

	// The warning fires window - lead after the last activity.
	warn := timers.at(0)
	require.Equal(t, 2*time.Minute+30*time.Second, warn.d)

	warn.f()
	require.Equal(t, StateWarning, monitor.State())
	event, ok := log.last()
	require.True(t, ok)
	require.Equal(t, EventWarning, event.Type)
	require.Equal(t, 30*time.Second, event.Countdown)

	expire := timers.at(1)
	require.Equal(t, 30*time.Second, expire.d)

	// "Continue" before the lead elapses: silent refresh, back to ACTIVE,
	// and the full inactivity timer restarts from zero.
	require.NoError(t, monitor.Continue(context.Background()))
	require.Equal(t, StateActive, monitor.State())
	require.Equal(t, 1, api.refreshCalls)
	require.Equal(t, 2*time.Minute+30*time.Second, timers.at(2).d)

	// The cancelled expiry timer firing late must not move the state.
	expire.f()
	require.Equal(t, StateActive, monitor.State())
}

func TestMonitor_ContinueAfterExpiryStaysExpired(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	monitor, timers, _, log := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	monitor.Start()
	timers.at(0).f()
	require.Equal(t, StateWarning, monitor.State())

	// The expiry timer fires while the refresh is still in flight. The
	// successful refresh must not resurrect the expired machine.
	expire := timers.at(1)
	api.refreshFn = func() error {
		expire.f()
		return nil
	}

	require.NoError(t, monitor.Continue(context.Background()))
	require.Equal(t, StateExpired, monitor.State())

	event, ok := log.last()
	require.True(t, ok)
	require.Equal(t, EventExpired, event.Type)
}

func TestMonitor_ExpiresAfterWarningLead(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	monitor, timers, snapshot, log := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	require.NoError(t, snapshot.Save(Snapshot{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	monitor.Start()
	timers.at(0).f()
	timers.at(1).f()

	require.Equal(t, StateExpired, monitor.State())
	require.NotEmpty(t, monitor.Reason())

	event, ok := log.last()
	require.True(t, ok)
	require.Equal(t, EventExpired, event.Type)
	require.Equal(t, monitor.Reason(), event.Reason)

	_, present, err := snapshot.Load()
	require.NoError(t, err)
	require.False(t, present)

	// Activity after expiry is ignored; only a restart rearms.
	monitor.RecordActivity()
	require.Equal(t, StateExpired, monitor.State())
}

func TestMonitor_ActivityResetsFromWarning(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	monitor, timers, _, _ := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	monitor.Start()
	warn := timers.at(0)
	warn.f()
	require.Equal(t, StateWarning, monitor.State())

	expire := timers.at(1)
	monitor.RecordActivity()
	require.Equal(t, StateActive, monitor.State())
	require.Zero(t, api.refreshCalls)

	// Stale timers from the pre-activity generation are inert.
	expire.f()
	warn.f()
	require.Equal(t, StateActive, monitor.State())
}

func TestMonitor_ContinueFailureExpires(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{refreshErr: errors.New("refresh rejected")}
	monitor, timers, _, _ := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	monitor.Start()
	timers.at(0).f()

	err := monitor.Continue(context.Background())
	require.Error(t, err)
	require.Equal(t, StateExpired, monitor.State())
}

func TestMonitor_LogoutNow(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	monitor, timers, _, _ := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	monitor.Start()
	timers.at(0).f()
	monitor.LogoutNow(context.Background())

	require.Equal(t, StateExpired, monitor.State())
	require.Equal(t, 1, api.logoutCalls)
}

func TestMonitor_StorageChangeFromSiblingTab(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	monitor, _, snapshot, _ := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	require.NoError(t, snapshot.Save(Snapshot{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	monitor.Start()

	// Another tab rewrote the snapshot: treated as activity.
	monitor.OnStorageChanged()
	require.Equal(t, StateActive, monitor.State())

	// Another tab logged out and cleared it: honored immediately.
	require.NoError(t, snapshot.Clear())
	monitor.OnStorageChanged()
	require.Equal(t, StateExpired, monitor.State())
}

func TestMonitor_VisibilityRegained(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	monitor, _, snapshot, _ := newTestMonitor(t, MonitorConfig{
		InactivityWindow: 3 * time.Minute,
		WarningLead:      30 * time.Second,
	}, api)

	require.NoError(t, snapshot.Save(Snapshot{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	monitor.Start()
	monitor.OnVisibilityRegained()
	require.Equal(t, StateActive, monitor.State())

	require.NoError(t, snapshot.Save(Snapshot{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Second)}))
	monitor.OnVisibilityRegained()
	require.Equal(t, StateExpired, monitor.State())
}
