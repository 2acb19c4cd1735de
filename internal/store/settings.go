package store

import (
	"database/sql"
	"strconv"
	"time"
)

// SettingsStore holds runtime key/value state that survives restarts, such
// as the last pass summary and the notification pause switch.
type SettingsStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	GetInt(key string, defaultVal int) int
	SetInt(key string, value int) error
	GetBool(key string, defaultVal bool) bool
	SetBool(key string, value bool) error
	GetTime(key string) (time.Time, bool)
	SetTime(key string, value time.Time) error
}

// SQLiteSettingsStore implements SettingsStore using SQLite
type SQLiteSettingsStore struct {
	db *sql.DB
}

// NewSQLiteSettingsStore creates a new settings store
func NewSQLiteSettingsStore(db *sql.DB) (*SQLiteSettingsStore, error) {
	store := &SQLiteSettingsStore{db: db}

	if err := store.createTable(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteSettingsStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`
	_, err := s.db.Exec(query)
	return err
}

// Get retrieves a setting value
func (s *SQLiteSettingsStore) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// Set sets a setting value
func (s *SQLiteSettingsStore) Set(key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, key, value, toNanos(time.Now()))
	return err
}

// Delete removes a setting
func (s *SQLiteSettingsStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// GetInt retrieves an integer setting
func (s *SQLiteSettingsStore) GetInt(key string, defaultVal int) int {
	return parseInt(s, key, defaultVal)
}

// SetInt sets an integer setting
func (s *SQLiteSettingsStore) SetInt(key string, value int) error {
	return s.Set(key, strconv.Itoa(value))
}

// GetBool retrieves a bool setting
func (s *SQLiteSettingsStore) GetBool(key string, defaultVal bool) bool {
	return parseBool(s, key, defaultVal)
}

// SetBool sets a bool setting
func (s *SQLiteSettingsStore) SetBool(key string, value bool) error {
	return s.Set(key, strconv.FormatBool(value))
}

// GetTime retrieves an RFC3339 timestamp setting
func (s *SQLiteSettingsStore) GetTime(key string) (time.Time, bool) {
	return parseTime(s, key)
}

// SetTime stores a timestamp setting in RFC3339 form
func (s *SQLiteSettingsStore) SetTime(key string, value time.Time) error {
	return s.Set(key, value.UTC().Format(time.RFC3339Nano))
}

func parseInt(s interface{ Get(string) (string, bool) }, key string, defaultVal int) int {
	value, ok := s.Get(key)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseBool(s interface{ Get(string) (string, bool) }, key string, defaultVal bool) bool {
	value, ok := s.Get(key)
	if !ok {
		return defaultVal
	}
	return value == "true" || value == "1" || value == "yes"
}

func parseTime(s interface{ Get(string) (string, bool) }, key string) (time.Time, bool) {
	value, ok := s.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Constants for setting keys
const (
	SettingLastPassAt            = "last_pass_at"
	SettingLastPassResult        = "last_pass_result"
	SettingLastPassCorrelationID = "last_pass_correlation_id"
	SettingNotificationsPaused   = "notifications_paused"
)
