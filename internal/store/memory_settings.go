package store

import (
	"strconv"
	"sync"
	"time"
)

// MemorySettingsStore implements SettingsStore using an in-memory map.
type MemorySettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySettingsStore creates a new in-memory settings store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{
		values: make(map[string]string),
	}
}

// Get retrieves a setting value.
func (m *MemorySettingsStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	return value, ok
}

// Set sets a setting value.
func (m *MemorySettingsStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

// Delete removes a setting.
func (m *MemorySettingsStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// GetInt retrieves an integer setting.
func (m *MemorySettingsStore) GetInt(key string, defaultVal int) int {
	return parseInt(m, key, defaultVal)
}

// SetInt sets an integer setting.
func (m *MemorySettingsStore) SetInt(key string, value int) error {
	return m.Set(key, strconv.Itoa(value))
}

// GetBool retrieves a bool setting.
func (m *MemorySettingsStore) GetBool(key string, defaultVal bool) bool {
	return parseBool(m, key, defaultVal)
}

// SetBool sets a bool setting.
func (m *MemorySettingsStore) SetBool(key string, value bool) error {
	return m.Set(key, strconv.FormatBool(value))
}

// GetTime retrieves a timestamp setting.
func (m *MemorySettingsStore) GetTime(key string) (time.Time, bool) {
	return parseTime(m, key)
}

// SetTime stores a timestamp setting.
func (m *MemorySettingsStore) SetTime(key string, value time.Time) error {
	return m.Set(key, value.UTC().Format(time.RFC3339Nano))
}

// Clear removes all settings.
func (m *MemorySettingsStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values = make(map[string]string)
}
