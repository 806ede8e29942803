package utils

import (
	"sync"
)

// OptionalRWMutex is a sync.RWMutex that can be switched off for consumers who
// synchronize externally. The zero value does not lock.
type OptionalRWMutex struct {
	mutex    sync.RWMutex
	useMutex bool
}

// Init switches locking on or off. It must not be called while the mutex is held.
func (m *OptionalRWMutex) Init(useMutex bool) {
	m.useMutex = useMutex
}

// Enabled reports whether Lock and RLock actually take the underlying mutex
func (m *OptionalRWMutex) Enabled() bool {
	return m.useMutex
}

func (m *OptionalRWMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.useMutex {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.useMutex {
		m.mutex.RUnlock()
	}
}
