package client

import (
	"sync"
	"time"
)

// Snapshot is the client's local view of its credentials: the access token
// and the moment the inactivity window runs out. It drives the monitor's
// local clock only and is not a security boundary; the server never trusts
// it.
type Snapshot struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (s Snapshot) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SnapshotStore is persistent key-value storage for the snapshot, shared
// across tabs in a browser deployment. MemorySnapshotStore backs tests and
// non-browser clients.
type SnapshotStore interface {
	Save(snapshot Snapshot) error
	Load() (Snapshot, bool, error)
	Clear() error
}

type MemorySnapshotStore struct {
	mu       sync.Mutex
	snapshot Snapshot
	present  bool
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (m *MemorySnapshotStore) Save(snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snapshot
	m.present = true
	return nil
}

func (m *MemorySnapshotStore) Load() (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, m.present, nil
}

func (m *MemorySnapshotStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = Snapshot{}
	m.present = false
	return nil
}
