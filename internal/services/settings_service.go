package services

import (
	"database/sql"
)

// Setting keys used by the maintenance service.
const (
	SettingCurrentVersion   = "current_version"
	SettingSchemaVersion    = "schema_version"
	SettingCheckEnabled     = "update_check_enabled"
	SettingDismissedVersion = "dismissed_update_version"
	SettingLastCheckResult  = "last_check_result"
	SettingLastCheckedAt    = "last_checked_at"
)

// SettingsServiceProvider is the string key/value settings store consumed by
// the checker and the updater.
type SettingsServiceProvider interface {
	Get(key string) (string, error)
	GetDefault(key, fallback string) string
	Set(key, value string) error
	Delete(key string) error
}

// SettingsService stores settings in the relational store.
type SettingsService struct {
	db *sql.DB
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get returns the value for a key. A missing key is ErrNotFound.
func (s *SettingsService) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetDefault returns the value for a key, or fallback when the key is
// missing or unreadable.
func (s *SettingsService) GetDefault(key, fallback string) string {
	value, err := s.Get(key)
	if err != nil {
		return fallback
	}
	return value
}

// Set inserts or replaces a key.
func (s *SettingsService) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *SettingsService) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}
