package services

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
)

// HistoryServiceProvider defines the interface for the audit log.
type HistoryServiceProvider interface {
	Record(entry models.UpdateHistoryEntry) error
	GetHistory(limit int) ([]models.UpdateHistoryEntry, error)
}

// HistoryService persists the append-only maintenance audit log. Entries are
// written to the relational store, not to the live file tree, so a failed
// update cannot erase its own trail.
type HistoryService struct {
	db *sql.DB
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Record appends one entry. Failures to write the audit log are themselves
// logged but never mask the outcome being recorded.
func (s *HistoryService) Record(entry models.UpdateHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}

	changelog, _ := json.Marshal(entry.Changelog)
	messages, _ := json.Marshal(entry.Messages)
	errs, _ := json.Marshal(entry.Errors)

	_, err := s.db.Exec(`
		INSERT INTO update_history (id, action, version, success, changelog_json, messages_json, errors_json, backup_id, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.Version, entry.Success,
		string(changelog), string(messages), string(errs),
		entry.BackupID, entry.UserID, entry.Date)
	if err != nil {
		log.Error().Err(err).Str("action", entry.Action).Msg("Failed to record history entry")
	}
	return err
}

// GetHistory retrieves the most recent entries, newest first.
func (s *HistoryService) GetHistory(limit int) ([]models.UpdateHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, action, version, success, changelog_json, messages_json, errors_json, backup_id, user_id, created_at
		FROM update_history ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.UpdateHistoryEntry
	for rows.Next() {
		var entry models.UpdateHistoryEntry
		var changelog, messages, errs sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Version, &entry.Success,
			&changelog, &messages, &errs, &entry.BackupID, &entry.UserID, &entry.Date); err != nil {
			return nil, err
		}
		entry.Changelog = decodeStringList(changelog)
		entry.Messages = decodeStringList(messages)
		entry.Errors = decodeStringList(errs)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func decodeStringList(value sql.NullString) []string {
	if !value.Valid || value.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(value.String), &out); err != nil {
		return nil
	}
	return out
}
