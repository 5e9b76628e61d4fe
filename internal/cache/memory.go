package cache

import (
	"sync"
	"time"
)

// MemoryBackend is a process-local Backend: a mutex-guarded map with lazy
// expiry. Suitable for a single instance; swap the Backend for an external
// store when running more than one.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &MemoryBackend{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

func (m *MemoryBackend) Get(group, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[group+"/"+key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, group+"/"+key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryBackend) Set(group, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= m.maxEntries {
		m.sweep()
	}
	m.entries[group+"/"+key] = memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryBackend) Delete(group, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, group+"/"+key)
	return nil
}

// sweep drops expired entries; if nothing expired, drops the entry closest
// to expiry to make room. Callers hold the lock.
func (m *MemoryBackend) sweep() {
	now := time.Now()
	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 || len(m.entries) == 0 {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, entry := range m.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = entry.expiresAt
		}
	}
	delete(m.entries, oldestKey)
}
