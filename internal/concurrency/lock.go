package concurrency

import "sync"

type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// InstanceLockManager serializes operations against one sandbox
// instance. Entries are reference counted: the map entry disappears
// when the last holder or waiter unlocks, so shut-down instances do
// not accumulate and a waiter queued on a mutex is always woken by the
// matching Unlock.
type InstanceLockManager struct {
	locks map[string]*instanceLock
	mu    sync.Mutex
}

func NewInstanceLockManager() *InstanceLockManager {
	return &InstanceLockManager{
		locks: make(map[string]*instanceLock),
	}
}

func (m *InstanceLockManager) Lock(instanceID string) {
	m.mu.Lock()
	lock, ok := m.locks[instanceID]
	if !ok {
		lock = &instanceLock{}
		m.locks[instanceID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
}

func (m *InstanceLockManager) Unlock(instanceID string) {
	m.mu.Lock()
	lock, ok := m.locks[instanceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, instanceID)
	}
	m.mu.Unlock()

	lock.mu.Unlock()
}

// Held reports whether any holder or waiter exists for the instance.
func (m *InstanceLockManager) Held(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[instanceID]
	return ok
}
